package parser

// DefaultFactories returns every bundled factory in probe order, Generic last
func DefaultFactories() []Factory {
	return []Factory{
		NewJSON(),
		NewYAML(),
		NewGob(),
		NewCBOR(),
		NewTOML(),
		NewCUE(),
		NewGeneric(),
	}
}
