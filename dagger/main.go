// A Dagger module for resourceloader CI pipelines
package main

import (
	"context"
	"fmt"
)

const goImage = "golang:1.24"

type Resourceloader struct{}

// source drops the dagger directory so go vet does not see generated code
func source(dir *Directory) *Directory {
	return dir.WithoutDirectory("dagger")
}

func goContainer(dir *Directory) *Container {
	return dag.Container().
		From(goImage).
		WithDirectory("/src", source(dir)).
		WithWorkdir("/src").
		WithExec([]string{"go", "mod", "download"})
}

// Test runs unit tests
func (m *Resourceloader) Test(ctx context.Context, src *Directory) (string, error) {
	return goContainer(src).
		WithExec([]string{"go", "test", "./..."}).
		Stdout(ctx)
}

// E2E builds the CLI and runs the end-to-end suite against it
func (m *Resourceloader) E2E(ctx context.Context, src *Directory) (string, error) {
	return goContainer(src).
		WithExec([]string{"go", "test", "-tags", "e2e", "./test/e2e/...", "-ginkgo.v"}).
		Stdout(ctx)
}

// Lint runs golangci-lint
func (m *Resourceloader) Lint(ctx context.Context, src *Directory) (string, error) {
	return dag.Container().
		From("golangci/golangci-lint:v1.61").
		WithDirectory("/src", source(src)).
		WithWorkdir("/src").
		WithExec([]string{"golangci-lint", "run", "--timeout=5m"}).
		Stdout(ctx)
}

// Build compiles the resourceloader binary
func (m *Resourceloader) Build(
	ctx context.Context,
	src *Directory,
	// +optional
	// +default="dev"
	version string,
) *File {
	return goContainer(src).
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("GOOS", "linux").
		WithEnvVariable("GOARCH", "amd64").
		WithExec([]string{
			"go", "build",
			"-ldflags", "-X main.version=" + version,
			"-o", "bin/resourceloader", "./cmd/resourceloader",
		}).
		File("/src/bin/resourceloader")
}

// BuildImage packages the binary into a distroless image
func (m *Resourceloader) BuildImage(
	ctx context.Context,
	src *Directory,
	// +optional
	// +default="dev"
	version string,
) *Container {
	binary := m.Build(ctx, src, version)

	return dag.Container().
		From("gcr.io/distroless/static:nonroot").
		WithFile("/resourceloader", binary).
		WithEntrypoint([]string{"/resourceloader"}).
		WithLabel("org.opencontainers.image.source", "https://github.com/chazu/resourceloader").
		WithLabel("org.opencontainers.image.description", "Resource loader and parse cache").
		WithLabel("org.opencontainers.image.version", version).
		WithLabel("org.opencontainers.image.licenses", "Apache-2.0")
}

// CI runs test, lint and build
func (m *Resourceloader) CI(ctx context.Context, src *Directory) (string, error) {
	testOutput, err := m.Test(ctx, src)
	if err != nil {
		return "", fmt.Errorf("tests failed: %w", err)
	}

	lintOutput, err := m.Lint(ctx, src)
	if err != nil {
		return "", fmt.Errorf("lint failed: %w", err)
	}

	if _, err := m.Build(ctx, src, "ci").Contents(ctx); err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}

	return fmt.Sprintf("All CI checks passed\n\nTests:\n%s\n\nLint:\n%s", testOutput, lintOutput), nil
}
