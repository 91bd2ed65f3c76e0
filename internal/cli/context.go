/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"github.com/authzed/controller-idioms/typedctx"

	"github.com/chazu/resourceloader/internal/config"
	"github.com/chazu/resourceloader/pkg/loader"
)

// Context keys shared by the commands
//
// The root command's PersistentPreRunE builds the configuration and the
// cache once and stores them on the command context; subcommands read them
// back with MustValue.
var (
	// CtxConfig is the loaded configuration
	CtxConfig = typedctx.NewKey[*config.Config]()

	// CtxCache is the resource cache
	CtxCache = typedctx.NewKey[*loader.Cache]()
)
