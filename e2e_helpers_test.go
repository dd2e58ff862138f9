//go:build !ci

// Browser tests run against chromedp/headless-shell in Docker and are skipped
// when Docker is missing.

package tinkerpen_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	chromeImage     = "chromedp/headless-shell:stable"
	containerPrefix = "chrome-e2e-tinkerpen-"
	chromeStartup   = 60 * time.Second
)

// newBrowser starts a headless Chrome container and returns a chromedp
// context bounded by timeout. The container is removed when the test ends.
func newBrowser(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	requireDocker(t)

	port, err := freePort()
	if err != nil {
		t.Fatalf("allocate chrome port: %v", err)
	}
	name := fmt.Sprintf("%s%d", containerPrefix, port)
	t.Cleanup(func() { removeContainer(t, name) })

	if err := runChrome(t, name, port); err != nil {
		t.Fatal(err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), fmt.Sprintf("http://localhost:%d", port))
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(t.Logf))
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	t.Cleanup(func() {
		timeoutCancel()
		ctxCancel()
		allocCancel()
	})
	return ctx
}

func requireDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "version").Run(); err != nil {
		t.Skip("docker not available")
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// runChrome starts the container and waits for its devtools endpoint.
// Linux shares the host network; elsewhere Docker runs in a VM, so the
// container's 9222 is published instead.
func runChrome(t *testing.T, name string, port int) error {
	t.Helper()
	_ = exec.Command("docker", "rm", "-f", name).Run()

	if exec.Command("docker", "image", "inspect", chromeImage).Run() != nil {
		t.Logf("pulling %s", chromeImage)
		ctx, cancel := context.WithTimeout(context.Background(), chromeStartup)
		defer cancel()
		if out, err := exec.CommandContext(ctx, "docker", "pull", chromeImage).CombinedOutput(); err != nil {
			return fmt.Errorf("docker pull: %w\n%s", err, out)
		}
	}

	args := []string{"run", "-d", "--rm", "--memory", "512m", "--cpus", "0.5", "--name", name}
	if runtime.GOOS == "linux" {
		args = append(args, "--network", "host", chromeImage, fmt.Sprintf("--remote-debugging-port=%d", port))
	} else {
		args = append(args, "-p", fmt.Sprintf("%d:9222", port), chromeImage)
	}
	if out, err := exec.Command("docker", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("docker run: %w\n%s", err, out)
	}

	versionURL := fmt.Sprintf("http://localhost:%d/json/version", port)
	if err := pollHTTP(versionURL, chromeStartup); err != nil {
		if logs, lerr := exec.Command("docker", "logs", "--tail", "50", name).CombinedOutput(); lerr == nil {
			t.Logf("chrome logs:\n%s", logs)
		}
		return fmt.Errorf("chrome not ready: %w", err)
	}
	return nil
}

func removeContainer(t *testing.T, name string) {
	out, err := exec.Command("docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		t.Logf("remove %s: %v (%s)", name, err, out)
	}
}

// pollHTTP retries GET url until it answers or timeout passes.
func pollHTTP(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	err := errors.New("no attempt made")
	for time.Now().Before(deadline) {
		var resp *http.Response
		if resp, err = client.Get(url); err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return err
}

// browserURL rewrites an httptest URL so the container can reach it.
func browserURL(serverURL string) string {
	host := "localhost"
	if runtime.GOOS != "linux" {
		host = "host.docker.internal"
	}
	r := strings.NewReplacer("127.0.0.1", host, "[::1]", host, "localhost", host)
	return r.Replace(serverURL)
}
