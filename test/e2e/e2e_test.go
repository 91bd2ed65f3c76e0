//go:build e2e
// +build e2e

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

package e2e

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// syncBuffer collects the output of a background process
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

var _ = Describe("resourceloader", Ordered, func() {
	SetDefaultEventuallyTimeout(30 * time.Second)
	SetDefaultEventuallyPollingInterval(200 * time.Millisecond)

	var resource string

	BeforeAll(func() {
		resource = filepath.Join(workDir, "app.yaml")
		Expect(os.WriteFile(resource, []byte("version: 1\n"), 0o644)).To(Succeed())
	})

	Context("get", func() {
		It("should load a local file", func() {
			output, err := run(exec.Command(binary, "get", "-o", "yaml", resource))
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal("version: 1\n"))
		})

		It("should load over HTTP", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("ETag", `"v1"`)
				_, _ = io.WriteString(w, `{"remote":true}`)
			}))
			defer server.Close()

			output, err := run(exec.Command(binary, "get", "-o", "raw", server.URL+"/settings.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal("map[remote:true]\n"))
		})

		It("should load the bundled examples", func() {
			output, err := run(exec.Command(binary, "get", "-o", "yaml", "embed://examples/platform.cue"))
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(ContainSubstring("fullName: example-dev"))
		})

		It("should fail on a missing resource", func() {
			_, err := run(exec.Command(binary, "get", filepath.Join(workDir, "missing.json")))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("watch", func() {
		It("should print changes and serve metrics", func() {
			port := freePort()
			out := &syncBuffer{}

			By("starting the watch command")
			cmd := exec.Command(binary, "watch",
				"--timeout", "0",
				"--interval", "100ms",
				"-o", "raw",
				"--metrics-bind-address", fmt.Sprintf("127.0.0.1:%d", port),
				resource)
			cmd.Stdout = out
			cmd.Stderr = GinkgoWriter
			Expect(cmd.Start()).To(Succeed())
			defer func() {
				_ = cmd.Process.Signal(os.Interrupt)
				_ = cmd.Wait()
			}()

			Eventually(out.String).Should(ContainSubstring("map[version:1]"))

			By("changing the resource")
			Expect(os.WriteFile(resource, []byte("version: 2\n"), 0o644)).To(Succeed())
			Eventually(out.String).Should(ContainSubstring("map[version:2]"))

			By("scraping the metrics endpoint")
			scrape := func(g Gomega) {
				resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
				g.Expect(err).NotTo(HaveOccurred())
				defer func() { _ = resp.Body.Close() }()
				body, err := io.ReadAll(resp.Body)
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(string(body)).To(ContainSubstring("resourceloader_cache_misses_total 1"))
				g.Expect(string(body)).To(ContainSubstring("resourceloader_cache_refreshes_total 1"))
				g.Expect(string(body)).To(ContainSubstring("resourceloader_cache_unchanged_total"))
			}
			Eventually(scrape).Should(Succeed())
		})
	})
})
