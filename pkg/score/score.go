// Package score turns scorer logits into 0-100 attribute scores, a weighted
// total, a star rating and a category.
package score

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Attribute head names.
const (
	Head         = "head_beauty_score"
	Neck         = "neck_beauty_score"
	BodyLimbHump = "body_limb_hump_beauty_score"
	BodySize     = "body_size_beauty_score"
	Category     = "category_encoded"
)

// Attributes lists the ordinal attributes in report order.
var Attributes = []string{Head, Neck, BodyLimbHump, BodySize}

// LabelsAR holds the Arabic display label for each head.
var LabelsAR = map[string]string{
	Head:         "جمال الرأس",
	Neck:         "جمال الرقبة",
	BodyLimbHump: "جمال الجسم والأطراف والسنام",
	BodySize:     "جمال ضخامة الجسم",
	Category:     "الفئة",
}

// renormEps is added to the top-K sum before renormalizing.
const renormEps = 1e-8

var (
	// ErrMissingHead is returned when logits lack a configured head.
	ErrMissingHead = errors.New("score: missing head logits")

	// ErrTooFewClasses is returned when an ordinal head has fewer than two classes.
	ErrTooFewClasses = errors.New("score: head needs at least two classes")
)

// Config holds aggregation settings.
type Config struct {
	TopK           int
	Weights        map[string]float64 // per ordinal attribute
	CategoryLabels []string           // index = category class
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		TopK: 10,
		Weights: map[string]float64{
			Head:         0.50,
			Neck:         0.20,
			BodyLimbHump: 0.15,
			BodySize:     0.15,
		},
		CategoryLabels: []string{"Beautiful", "Ugly"},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("score: top-k must be positive, got %d", c.TopK)
	}
	for name, w := range c.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("score: weight for %s must be non-negative, got %v", name, w)
		}
	}
	return nil
}

// Option is a functional option for configuring the aggregator.
type Option func(*Config)

// WithTopK sets how many classes contribute to each attribute score.
func WithTopK(k int) Option {
	return func(c *Config) { c.TopK = k }
}

// WithWeights replaces the attribute weights.
func WithWeights(w map[string]float64) Option {
	return func(c *Config) { c.Weights = w }
}

// WithCategoryLabels sets the category class labels.
func WithCategoryLabels(labels ...string) Option {
	return func(c *Config) { c.CategoryLabels = labels }
}

// AttributeScore is one ordinal attribute's result.
type AttributeScore struct {
	Name          string    `json:"name"`
	LabelAR       string    `json:"label_ar"`
	RawClassScore float64   `json:"raw_class_score"` // 1-based expected class
	Score0100     float64   `json:"score_0_100"`
	TopIndices    []int     `json:"top_indices"`
	TopProbs      []float64 `json:"top_probs"` // renormalized, sums to 1
}

// CategoryResult is the category head's result.
type CategoryResult struct {
	PredictedClass int       `json:"predicted_class"`
	PredictedLabel string    `json:"predicted_label"`
	LabelAR        string    `json:"label_ar"`
	Probs          []float64 `json:"probs"`
}

// Bundle is the full score report for one image.
type Bundle struct {
	Attributes []AttributeScore `json:"attributes"`
	Category   CategoryResult   `json:"category"`
	TotalScore float64          `json:"total_score_0_100"`
	StarRating float64          `json:"star_rating_0_5"`
}

// Attribute returns the named attribute score.
func (b Bundle) Attribute(name string) (AttributeScore, bool) {
	for _, a := range b.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeScore{}, false
}

// Aggregator computes Bundles from logits. It is stateless and safe for
// concurrent use.
type Aggregator struct {
	config Config
}

// New creates an aggregator.
func New(opts ...Option) (*Aggregator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{config: cfg}, nil
}

// Config returns the aggregator's configuration.
func (a *Aggregator) Config() Config {
	return a.config
}

// Aggregate scores one image's logits.
func (a *Aggregator) Aggregate(logits map[string][]float64) (Bundle, error) {
	var b Bundle
	for _, name := range Attributes {
		l, ok := logits[name]
		if !ok {
			return Bundle{}, fmt.Errorf("%w: %s", ErrMissingHead, name)
		}
		s, err := a.attribute(name, l)
		if err != nil {
			return Bundle{}, err
		}
		b.Attributes = append(b.Attributes, s)
		b.TotalScore += a.config.Weights[name] * s.Score0100
	}
	b.StarRating = b.TotalScore / 20

	cat, ok := logits[Category]
	if !ok || len(cat) == 0 {
		return Bundle{}, fmt.Errorf("%w: %s", ErrMissingHead, Category)
	}
	probs := Softmax(cat)
	pred := argmax(probs)
	b.Category = CategoryResult{
		PredictedClass: pred,
		PredictedLabel: a.categoryLabel(pred),
		LabelAR:        LabelsAR[Category],
		Probs:          probs,
	}
	return b, nil
}

func (a *Aggregator) attribute(name string, logits []float64) (AttributeScore, error) {
	classes := len(logits)
	if classes < 2 {
		return AttributeScore{}, fmt.Errorf("%w: %s has %d", ErrTooFewClasses, name, classes)
	}

	probs := Softmax(logits)
	idx, top := TopK(probs, min(a.config.TopK, classes))

	var sum float64
	for _, p := range top {
		sum += p
	}
	for i := range top {
		top[i] /= sum + renormEps
	}

	raw := Expectation(idx, top) + 1
	return AttributeScore{
		Name:          name,
		LabelAR:       LabelsAR[name],
		RawClassScore: raw,
		Score0100:     (raw - 1) / float64(classes-1) * 100,
		TopIndices:    idx,
		TopProbs:      top,
	}, nil
}

func (a *Aggregator) categoryLabel(class int) string {
	if class < len(a.config.CategoryLabels) {
		return a.config.CategoryLabels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

// Softmax returns the softmax of logits.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	m := logits[0]
	for _, v := range logits[1:] {
		m = math.Max(m, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// TopK returns the indices and values of the k largest probabilities in
// descending order. Equal values keep index order.
func TopK(probs []float64, k int) ([]int, []float64) {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return probs[idx[i]] > probs[idx[j]] })

	k = max(0, min(k, len(probs)))
	idx = idx[:k]
	vals := make([]float64, k)
	for i, j := range idx {
		vals[i] = probs[j]
	}
	return idx, vals
}

// Expectation returns Σ probs[i]·indices[i].
func Expectation(indices []int, probs []float64) float64 {
	var e float64
	for i, j := range indices {
		e += probs[i] * float64(j)
	}
	return e
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
