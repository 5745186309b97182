package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// command starts an external program without waiting for it to finish.
type command func(ctx context.Context, name string, args ...string) error

func startCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Start()
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return err
}

// Browser opens URLs with the platform's default handler.
type Browser struct {
	goos  string
	start command
}

func NewBrowser() *Browser {
	return &Browser{goos: runtime.GOOS, start: startCommand}
}

func (b *Browser) OpenURL(url string) error {
	name, args, err := openCommand(b.goos, url)
	if err != nil {
		return err
	}
	if err := b.start(context.Background(), name, args...); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

func openCommand(goos, url string) (string, []string, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{url}, nil
	case "darwin":
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform %q", goos)
	}
}
