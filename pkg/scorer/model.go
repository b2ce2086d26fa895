// Package scorer implements the multi-modal beauty scorer: two region
// encoders, learned absent embeddings, attention fusion, a shared trunk and
// one linear head per attribute.
package scorer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/teslashibe/go-camelbeauty/pkg/region"
	"gonum.org/v1/gonum/mat"
)

const headPrefix = "attribute_heads."

// Config holds scorer architecture settings. They must match the weights.
type Config struct {
	FeatureDim  int // encoder output and fusion width
	Heads       int // attention heads
	TrunkHidden int // hidden width of the shared trunk

	Logger *slog.Logger
}

// DefaultConfig returns the architecture the camel scorer was trained with.
func DefaultConfig() Config {
	return Config{
		FeatureDim:  256,
		Heads:       8,
		TrunkHidden: 512,
		Logger:      slog.Default(),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.FeatureDim < 1 {
		return fmt.Errorf("scorer: feature dim must be positive, got %d", c.FeatureDim)
	}
	if c.Heads < 1 || c.FeatureDim%c.Heads != 0 {
		return fmt.Errorf("scorer: %d heads do not divide feature dim %d", c.Heads, c.FeatureDim)
	}
	if c.TrunkHidden < 1 {
		return fmt.Errorf("scorer: trunk hidden size must be positive, got %d", c.TrunkHidden)
	}
	return nil
}

// Option is a functional option for configuring the scorer.
type Option func(*Config)

// WithFeatureDim sets the feature width.
func WithFeatureDim(n int) Option {
	return func(c *Config) { c.FeatureDim = n }
}

// WithAttentionHeads sets the number of fusion attention heads.
func WithAttentionHeads(n int) Option {
	return func(c *Config) { c.Heads = n }
}

// WithTrunkHidden sets the trunk's hidden width.
func WithTrunkHidden(n int) Option {
	return func(c *Config) { c.TrunkHidden = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Logits holds one logit vector per head, keyed by head name.
type Logits map[string][]float64

// Model is the loaded scorer. It is read-only after construction and safe
// for concurrent use when its encoders are.
type Model struct {
	body       RegionEncoder
	face       RegionEncoder
	absentBody []float64
	absentFace []float64
	fusion     *fusion
	trunk      *trunk
	heads      map[string]*linear
	headNames  []string
	config     Config
	logger     *slog.Logger
}

// NewModel assembles a scorer from two encoders and a weight set.
func NewModel(body, face RegionEncoder, w Weights, opts ...Option) (*Model, error) {
	if body == nil || face == nil {
		return nil, errors.New("scorer: body and face encoders are required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := tensorLoader{w: w}
	dim := cfg.FeatureDim

	absentBody, err := l.get("empty_body_embedding", dim)
	if err != nil {
		return nil, err
	}
	absentFace, err := l.get("empty_face_embedding", dim)
	if err != nil {
		return nil, err
	}
	fus, err := loadFusion(l, dim, cfg.Heads)
	if err != nil {
		return nil, err
	}
	tr, err := loadTrunk(l, dim, cfg.TrunkHidden)
	if err != nil {
		return nil, err
	}

	m := &Model{
		body:       body,
		face:       face,
		absentBody: absentBody,
		absentFace: absentFace,
		fusion:     fus,
		trunk:      tr,
		heads:      make(map[string]*linear),
		config:     cfg,
		logger:     cfg.Logger.With("component", "scorer"),
	}

	for name := range w {
		if !strings.HasPrefix(name, headPrefix) || !strings.HasSuffix(name, ".weight") {
			continue
		}
		head := strings.TrimSuffix(strings.TrimPrefix(name, headPrefix), ".weight")
		lin, err := loadLinearAnyOut(l, headPrefix+head, dim)
		if err != nil {
			return nil, err
		}
		m.heads[head] = lin
		m.headNames = append(m.headNames, head)
	}
	if len(m.heads) == 0 {
		return nil, ErrNoHeads
	}
	sort.Strings(m.headNames)

	m.logger.Info("scorer ready", "heads", m.headNames, "feature_dim", dim)
	return m, nil
}

// Paths locates the files Load needs.
type Paths struct {
	BodyEncoder string
	FaceEncoder string
	Weights     string // safetensors weights for fusion, trunk, heads
}

// Load reads both ONNX encoders and the weights file.
func Load(p Paths, opts ...Option) (*Model, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := LoadWeights(p.Weights)
	if err != nil {
		return nil, err
	}

	bodyCfg := DefaultEncoderConfig(p.BodyEncoder)
	bodyCfg.Logger = cfg.Logger
	body, err := NewONNXEncoder(bodyCfg)
	if err != nil {
		return nil, fmt.Errorf("body encoder: %w", err)
	}

	faceCfg := DefaultEncoderConfig(p.FaceEncoder)
	faceCfg.Logger = cfg.Logger
	face, err := NewONNXEncoder(faceCfg)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("face encoder: %w", err)
	}

	m, err := NewModel(body, face, w, opts...)
	if err != nil {
		body.Close()
		face.Close()
		return nil, err
	}
	return m, nil
}

// HeadNames returns the head names in sorted order.
func (m *Model) HeadNames() []string {
	return append([]string(nil), m.headNames...)
}

// HeadClasses returns the number of classes for a head, or 0 if unknown.
func (m *Model) HeadClasses(name string) int {
	h, ok := m.heads[name]
	if !ok {
		return 0
	}
	return h.outDim()
}

// Score runs a batch of body/face pairs. Encoders are invoked only for
// present samples; absent positions take the learned absent embedding.
// Results are returned in input order.
func (m *Model) Score(bodies, faces []region.Sample) ([]Logits, error) {
	if len(bodies) != len(faces) {
		return nil, fmt.Errorf("%w: %d bodies, %d faces", ErrBatchMismatch, len(bodies), len(faces))
	}
	n := len(bodies)
	if n == 0 {
		return nil, nil
	}

	bodyFeats, err := m.features("body", m.body, m.absentBody, bodies)
	if err != nil {
		return nil, err
	}
	faceFeats, err := m.features("face", m.face, m.absentFace, faces)
	if err != nil {
		return nil, err
	}

	fused := mat.NewDense(n, m.config.FeatureDim, nil)
	for i := range n {
		fused.SetRow(i, m.fusion.forward(bodyFeats[i], faceFeats[i]))
	}
	shared := m.trunk.forward(fused)

	out := make([]Logits, n)
	for i := range out {
		out[i] = make(Logits, len(m.heads))
	}
	for name, head := range m.heads {
		y := head.forward(shared)
		for i := range n {
			out[i][name] = append([]float64(nil), y.RawRowView(i)...)
		}
	}
	return out, nil
}

// ScoreOne scores a single body/face pair.
func (m *Model) ScoreOne(body, face region.Sample) (Logits, error) {
	out, err := m.Score([]region.Sample{body}, []region.Sample{face})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *Model) features(name string, enc RegionEncoder, absent []float64, samples []region.Sample) ([][]float64, error) {
	feats := make([][]float64, len(samples))
	present := 0
	for i, s := range samples {
		if !s.IsPresent() {
			feats[i] = absent
			continue
		}
		v, err := enc.Encode(s.Image(), s.Mask())
		if err != nil {
			return nil, &EncodeError{Region: name, Index: i, Err: err}
		}
		if len(v) != m.config.FeatureDim {
			return nil, &EncodeError{Region: name, Index: i,
				Err: fmt.Errorf("%w: got %d, want %d", ErrFeatureDim, len(v), m.config.FeatureDim)}
		}
		f := make([]float64, len(v))
		for j, x := range v {
			f[j] = float64(x)
		}
		feats[i] = f
		present++
	}
	m.logger.Debug("region features", "region", name, "present", present, "absent", len(samples)-present)
	return feats, nil
}

// Close releases both encoders.
func (m *Model) Close() error {
	return errors.Join(m.body.Close(), m.face.Close())
}
