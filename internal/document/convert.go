package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Converter turns an HTML file into a PDF written at dst.
type Converter interface {
	Name() string
	Convert(ctx context.Context, src, dst string) error
}

// CommandConverter runs an external HTML-to-PDF program.
type CommandConverter struct {
	Label string
	Bin   string
	Args  func(src, dst string) []string
}

// Name implements Converter.
func (c CommandConverter) Name() string { return c.Label }

// Convert implements Converter.
func (c CommandConverter) Convert(ctx context.Context, src, dst string) error {
	bin, err := exec.LookPath(c.Bin)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Label, err)
	}
	out, err := exec.CommandContext(ctx, bin, c.Args(src, dst)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", c.Label, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// WeasyPrint is the primary engine.
func WeasyPrint() CommandConverter {
	return CommandConverter{
		Label: "weasyprint",
		Bin:   "weasyprint",
		Args:  func(src, dst string) []string { return []string{src, dst} },
	}
}

// Wkhtmltopdf is the fallback engine.
func Wkhtmltopdf() CommandConverter {
	return CommandConverter{
		Label: "wkhtmltopdf",
		Bin:   "wkhtmltopdf",
		Args: func(src, dst string) []string {
			return []string{"--quiet", "--enable-local-file-access", src, dst}
		},
	}
}

// DefaultEngines returns the engines tried when Config.Engines is nil.
func DefaultEngines() []Converter {
	return []Converter{WeasyPrint(), Wkhtmltopdf()}
}

// Conversion is the result of ConvertToBinary.
type Conversion struct {
	Path    string // empty unless Outcome == Succeeded
	Engine  string
	Outcome Outcome
	Err     error // last engine failure when degraded
}

// BinaryPathFor maps a markup path to its PDF sibling.
func BinaryPathFor(markupPath string) string {
	return strings.TrimSuffix(markupPath, filepath.Ext(markupPath)) + ".pdf"
}

// ConvertToBinary tries each engine in order. Failure of all engines is reported as
// Degraded, never as an error.
func (g *Generator) ConvertToBinary(ctx context.Context, markupPath string) Conversion {
	if len(g.engines) == 0 {
		return Conversion{Outcome: Degraded, Err: errors.New("no conversion engines configured")}
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Conversion{Outcome: Degraded, Err: err}
	}
	defer g.sem.Release(1)

	dst := BinaryPathFor(markupPath)
	var lastErr error
	for _, eng := range g.engines {
		if err := convertAtomic(ctx, eng, markupPath, dst); err != nil {
			g.log.Debug("conversion engine failed", zap.String("engine", eng.Name()), zap.Error(err))
			lastErr = err
			continue
		}
		return Conversion{Path: dst, Engine: eng.Name(), Outcome: Succeeded}
	}
	return Conversion{Outcome: Degraded, Err: lastErr}
}

// convertAtomic lets the engine write next to dst and renames the result into place.
func convertAtomic(ctx context.Context, eng Converter, src, dst string) error {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_ = f.Close()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := eng.Convert(ctx, src, tmp); err != nil {
		return err
	}
	st, err := os.Stat(tmp)
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return fmt.Errorf("%s: empty output", eng.Name())
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
