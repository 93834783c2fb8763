// Package document renders offer letters, archives them on disk and derives
// PDF and signed copies.
package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/and161185/offer-desk/internal/errs"
)

// Variant distinguishes the archived copies of an offer.
type Variant string

const (
	VariantOriginal Variant = "orig"
	VariantSigned   Variant = "signed"
)

// Outcome reports whether a generation step produced everything it could.
type Outcome int

const (
	// Succeeded means markup and PDF were both produced.
	Succeeded Outcome = iota
	// Degraded means markup was produced but no conversion engine succeeded.
	Degraded
)

func (o Outcome) String() string {
	if o == Degraded {
		return "degraded"
	}
	return "succeeded"
}

// Pair is a markup document and the PDF derived from it, if any.
type Pair struct {
	MarkupPath string
	BinaryPath string // empty when conversion was unavailable
	Outcome    Outcome
}

// Binary returns the PDF path or nil when absent.
func (p Pair) Binary() *string {
	if p.BinaryPath == "" {
		return nil
	}
	s := p.BinaryPath
	return &s
}

// Config is the rendering environment. It is built once at startup and injected.
type Config struct {
	TemplateRoot   string           // directory holding offer templates
	OutputRoot     string           // directory receiving generated artifacts
	Funcs          template.FuncMap // extra template functions, merged over the defaults
	Engines        []Converter      // tried in order; nil means DefaultEngines()
	MaxConversions int64            // concurrent engine processes; <= 0 means 2
}

// Generator implements the offer document pipeline.
type Generator struct {
	templateRoot string
	outputRoot   string
	funcs        template.FuncMap
	engines      []Converter
	sem          *semaphore.Weighted
	log          *zap.Logger

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// New validates cfg and returns a ready generator.
func New(cfg Config, log *zap.Logger) (*Generator, error) {
	if cfg.TemplateRoot == "" || cfg.OutputRoot == "" {
		return nil, fmt.Errorf("document: template and output roots are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	funcs := template.FuncMap{"dateAU": DateAU}
	for k, v := range cfg.Funcs {
		funcs[k] = v
	}
	engines := cfg.Engines
	if engines == nil {
		engines = DefaultEngines()
	}
	maxConv := cfg.MaxConversions
	if maxConv <= 0 {
		maxConv = 2
	}
	return &Generator{
		templateRoot: cfg.TemplateRoot,
		outputRoot:   cfg.OutputRoot,
		funcs:        funcs,
		engines:      engines,
		sem:          semaphore.NewWeighted(maxConv),
		log:          log.With(zap.String("component", "document")),
		cache:        map[string]*template.Template{},
	}, nil
}

// DateAU formats a date as "02 Jan 2006"; zero and nil values render empty.
func DateAU(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006")
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006")
	default:
		return ""
	}
}

// ValidTemplateName reports whether name is a bare file name.
func ValidTemplateName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func (g *Generator) template(name string) (*template.Template, error) {
	g.mu.RLock()
	t, ok := g.cache[name]
	g.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := template.New(name).Funcs(g.funcs).ParseFiles(filepath.Join(g.templateRoot, name))
	if err != nil {
		return nil, fmt.Errorf("document: load template %q: %w", name, err)
	}
	g.mu.Lock()
	g.cache[name] = t
	g.mu.Unlock()
	return t, nil
}

// Render executes the named template with data. Fields absent from data render empty.
func (g *Generator) Render(name string, data map[string]any) (string, error) {
	if !ValidTemplateName(name) {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidTemplateName, name)
	}
	t, err := g.template(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("document: render %q: %w", name, err)
	}
	return sb.String(), nil
}

// PathFor returns the deterministic artifact path for an offer variant.
func (g *Generator) PathFor(offerID uuid.UUID, v Variant) string {
	return filepath.Join(g.outputRoot, fmt.Sprintf("offer_%s_%s.html", offerID, v))
}

// Persist writes markup to the offer's variant path, replacing any previous file.
func (g *Generator) Persist(offerID uuid.UUID, markup string, v Variant) (string, error) {
	if v != VariantOriginal && v != VariantSigned {
		return "", fmt.Errorf("document: unknown variant %q", v)
	}
	if err := os.MkdirAll(g.outputRoot, 0o755); err != nil {
		return "", fmt.Errorf("document: output dir: %w", err)
	}
	path := g.PathFor(offerID, v)
	if err := writeFileAtomic(path, []byte(markup), 0o644); err != nil {
		return "", fmt.Errorf("document: persist %s: %w", v, err)
	}
	return path, nil
}

// GenerateOriginal renders, persists and converts the unsigned offer letter.
func (g *Generator) GenerateOriginal(ctx context.Context, offerID uuid.UUID, templateName string, data map[string]any) (Pair, error) {
	markup, err := g.Render(templateName, data)
	if err != nil {
		return Pair{}, err
	}
	path, err := g.Persist(offerID, markup, VariantOriginal)
	if err != nil {
		return Pair{}, err
	}
	return g.pair(ctx, offerID, path), nil
}

// GenerateSigned derives the signed copy from the archived original markup.
func (g *Generator) GenerateSigned(ctx context.Context, offerID uuid.UUID, originalPath string, att Attestation) (Pair, error) {
	if originalPath == "" {
		return Pair{}, fmt.Errorf("%w: offer %s has no original markup", errs.ErrDocumentSourceMissing, offerID)
	}
	src, err := os.ReadFile(originalPath)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", errs.ErrDocumentSourceMissing, err)
	}
	signed := AppendSignatureFooter(string(src), att)
	path, err := g.Persist(offerID, signed, VariantSigned)
	if err != nil {
		return Pair{}, err
	}
	return g.pair(ctx, offerID, path), nil
}

// Discard removes the files of p. Files already gone are not an error.
func (g *Generator) Discard(p Pair) error {
	var errList []error
	for _, path := range []string{p.MarkupPath, p.BinaryPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (g *Generator) pair(ctx context.Context, offerID uuid.UUID, markupPath string) Pair {
	conv := g.ConvertToBinary(ctx, markupPath)
	if conv.Outcome == Degraded {
		g.log.Warn("pdf conversion unavailable, keeping markup only",
			zap.String("offer_id", offerID.String()),
			zap.String("markup", markupPath),
			zap.Error(conv.Err),
		)
	}
	return Pair{MarkupPath: markupPath, BinaryPath: conv.Path, Outcome: conv.Outcome}
}
