// Package gemini implements the oracle capability on Google's Gemini models.
// Every judgement is requested in JSON mode against a response schema and
// decoded strictly; a malformed response is a contract violation.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/intelligence/oracle"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Config configures the provider.
type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	// Endpoint overrides the API host, e.g. a regional or proxy endpoint.
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float32       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// ExtractTemperature is used for the case extraction passes so that the
	// passes differ enough for the vote to be meaningful.
	ExtractTemperature float32 `mapstructure:"extract_temperature"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Model:              "gemini-2.5-pro",
		EmbeddingModel:     "text-embedding-004",
		Temperature:        0,
		ExtractTemperature: 0.4,
		Timeout:            90 * time.Second,
	}
}

// generator is the part of *genai.GenerativeModel the provider uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// embedder is the part of *genai.EmbeddingModel the provider uses.
type embedder interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

// Provider is the Gemini-backed oracle.
type Provider struct {
	client  *genai.Client
	models  func(schema *genai.Schema, temperature float32) generator
	embed   embedder
	prompts *Prompts
	cfg     Config
	logger  logging.Logger
	system  string
}

var _ oracle.Oracle = (*Provider)(nil)

// New dials the Gemini API.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrCodeConfigurationError, "oracle.api_key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "gemini client")
	}
	p, err := newProvider(cfg, logger, nil, nil)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.client = client
	p.models = func(schema *genai.Schema, temperature float32) generator {
		m := client.GenerativeModel(p.cfg.Model)
		m.ResponseMIMEType = "application/json"
		m.ResponseSchema = schema
		m.SetTemperature(temperature)
		m.SystemInstruction = genai.NewUserContent(genai.Text(p.system))
		return m
	}
	em := client.EmbeddingModel(p.cfg.EmbeddingModel)
	em.TaskType = genai.TaskTypeSemanticSimilarity
	p.embed = em
	p.logger.Info("gemini oracle ready", logging.String("model", p.cfg.Model), logging.String("embedding_model", p.cfg.EmbeddingModel))
	return p, nil
}

func newProvider(cfg Config, logger logging.Logger, models func(*genai.Schema, float32) generator, emb embedder) (*Provider, error) {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	prompts, err := NewPrompts()
	if err != nil {
		return nil, err
	}
	system, err := prompts.Render(TmplSystem, nil)
	if err != nil {
		return nil, err
	}
	return &Provider{models: models, embed: emb, prompts: prompts, cfg: cfg, logger: logger.Named("gemini"), system: system}, nil
}

// Prompts exposes the template set so deployments can override wording.
func (p *Provider) Prompts() *Prompts { return p.prompts }

// Close releases the client.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// generate renders tmpl, calls the model and decodes the JSON answer into out.
func (p *Provider) generate(ctx context.Context, op, tmpl string, data interface{}, schema *genai.Schema, temperature float32, out interface{}, extra ...genai.Part) error {
	prompt, err := p.prompts.Render(tmpl, data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	parts := append([]genai.Part{genai.Text(prompt)}, extra...)
	resp, err := p.models(schema, temperature).GenerateContent(ctx, parts...)
	if err != nil {
		return classify(op, err)
	}
	raw, err := responseText(resp)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeOracleContractViolation, op)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		p.logger.Warn("undecodable oracle response", logging.String("op", op), logging.Int("bytes", len(raw)))
		return errors.Wrap(err, errors.ErrCodeOracleContractViolation, op+": response is not the requested JSON")
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates")
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", fmt.Errorf("empty candidate (finish reason %v)", c.FinishReason)
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("candidate carries no text")
	}
	return b.String(), nil
}

type conceptualData struct {
	oracle.ConceptualRequest
	Degrees []string
}

func (p *Provider) JudgeConceptual(ctx context.Context, req oracle.ConceptualRequest) (*oracle.ConceptualJudgement, error) {
	var extra []genai.Part
	if req.ImageRef != "" {
		extra = append(extra, genai.FileData{MIMEType: imageMIME(req.ImageRef), URI: req.ImageRef})
	}
	var out oracle.ConceptualJudgement
	err := p.generate(ctx, "judge_conceptual", TmplConceptual,
		conceptualData{ConceptualRequest: req, Degrees: degreeNames(true)},
		conceptualSchema, p.cfg.Temperature, &out, extra...)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func imageMIME(ref string) string {
	if t := mime.TypeByExtension(path.Ext(ref)); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}

type overallData struct {
	oracle.OverallRequest
	Degrees []string
}

func (p *Provider) JudgeOverall(ctx context.Context, req oracle.OverallRequest) (*oracle.OverallJudgement, error) {
	var out oracle.OverallJudgement
	err := p.generate(ctx, "judge_overall", TmplOverall,
		overallData{OverallRequest: req, Degrees: degreeNames(false)},
		overallSchema, p.cfg.Temperature, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) JudgeGoodsServices(ctx context.Context, req oracle.GsRequest) (*oracle.GsJudgement, error) {
	var out oracle.GsJudgement
	if err := p.generate(ctx, "judge_goods_services", TmplGoods, req, goodsSchema, p.cfg.Temperature, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type outcomeData struct {
	oracle.OutcomeRequest
	Results []string
}

func (p *Provider) SynthesizeOutcome(ctx context.Context, req oracle.OutcomeRequest) (*oracle.OutcomeJudgement, error) {
	var out oracle.OutcomeJudgement
	err := p.generate(ctx, "synthesize_outcome", TmplOutcome,
		outcomeData{OutcomeRequest: req, Results: outcomeNames()},
		outcomeSchema, p.cfg.Temperature, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type pagesData struct {
	Pages   []trademark.Page
	Degrees []string
}

func (p *Provider) ClassifySections(ctx context.Context, pages []trademark.Page) ([]trademark.Section, error) {
	var out struct {
		Sections []trademark.Section `json:"sections"`
	}
	if err := p.generate(ctx, "classify_sections", TmplSections, pagesData{Pages: pages}, sectionsSchema, p.cfg.Temperature, &out); err != nil {
		return nil, err
	}
	return out.Sections, nil
}

func (p *Provider) ExtractCase(ctx context.Context, pages []trademark.Page) (*trademark.CaseExtraction, error) {
	var out trademark.CaseExtraction
	err := p.generate(ctx, "extract_case", TmplExtract,
		pagesData{Pages: pages, Degrees: degreeNames(false)},
		extractionSchema, p.cfg.ExtractTemperature, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) (trademark.EmbeddingVector, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	resp, err := p.embed.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classify("embed", err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, errors.ContractViolation("embed: empty embedding")
	}
	return trademark.EmbeddingVector(resp.Embedding.Values), nil
}
