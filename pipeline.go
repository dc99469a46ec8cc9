package cardworker

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	stageDecoding    = "decoding"
	stageEngine      = "engine"
	stageOrienting   = "orienting"
	stageLocalizing  = "localizing"
	stageNormalizing = "normalizing"
	stageQuality     = "quality"
	stageEncoding    = "encoding"
	stageExtracting  = "extracting"
	stageAssembling  = "assembling"
	stageUnhandled   = "unhandled"
	stageRejected    = "rejected"
)

const (
	cardFilename       = "card.png"
	defaultPDFFilename = "file.pdf"
	contentTypePNG     = "image/png"
	contentTypePDF     = "application/pdf"
)

// DocumentDecoder turns raw uploads into pages.
type DocumentDecoder interface {
	Decode(ctx context.Context, raw []byte, ext string) (DecodedPages, error)
}

// Pipeline runs one document through decoding, orientation, localization,
// normalization, the quality gate and the extraction call. It holds no per-run
// state and may be shared by all workers; the engine comes from the worker.
type Pipeline struct {
	Decoder   DocumentDecoder
	Resolver  RotationResolver
	Localizer CardLocalizer
	Checker   QualityChecker
	Extractor Extractor
}

// NewPipeline wires the default stages around the given decoder and extractor.
func NewPipeline(decoder DocumentDecoder, extractor Extractor) *Pipeline {
	return &Pipeline{
		Decoder:   decoder,
		Resolver:  NewRotationResolver(),
		Localizer: NewRegionLocalizer(),
		Checker:   NewQualityGate(),
		Extractor: extractor,
	}
}

// Run always returns an envelope. Stage failures end the run with the matching
// failure envelope; panics are left to the caller.
func (p *Pipeline) Run(ctx context.Context, doc SubmittedDocument, engines EngineProvider) ExtractionEnvelope {
	defer timeTrack(time.Now(), "pipeline", "document processed", doc.RequestID)

	envelope := p.run(ctx, doc, engines)
	pipelineOutcomes.WithLabelValues(envelope.Status, envelope.stage).Inc()

	event := log.Info()
	if !envelope.Succeeded() {
		event = log.Warn()
	}
	event.Str("component", "CARD_PIPELINE").Str("RequestID", doc.RequestID).
		Str("status", envelope.Status).Str("stage", envelope.stage).Str("reason", envelope.Reason).
		Msg("pipeline finished")
	return envelope
}

func (p *Pipeline) run(ctx context.Context, doc SubmittedDocument, engines EngineProvider) ExtractionEnvelope {
	logger := log.With().Str("component", "CARD_PIPELINE").Str("RequestID", doc.RequestID).Logger()

	stageStart := time.Now()
	pages, err := p.Decoder.Decode(ctx, doc.Bytes, doc.DeclaredExtension)
	observeStage(stageDecoding, stageStart)
	if err != nil {
		logger.Warn().Err(err).Str("filename", doc.Filename).Msg("decoding failed")
		return failureEnvelope(stageDecoding, ReasonDecodingFailed, "", nil)
	}

	if pages.ForwardAsIs() {
		logger.Info().Int("pages", pages.PageCount).Msg("multi page pdf, forwarding as is")
		filename := doc.Filename
		if filename == "" {
			filename = defaultPDFFilename
		}
		return p.extract(ctx, logger, pages.Forward, filename, contentTypePDF, nil)
	}

	stageStart = time.Now()
	engine, err := engines.EnsureLoaded()
	observeStage(stageEngine, stageStart)
	if err != nil {
		logger.Error().Err(err).Msg("recognition engine unavailable")
		return failureEnvelope(stageEngine, ReasonProcessingFailed, err.Error(), nil)
	}

	stageStart = time.Now()
	outcome := p.Resolver.Resolve(pages.Pages[0], engine)
	observeStage(stageOrienting, stageStart)
	rotation := outcome.Diagnostics()
	logger.Debug().Int("angle", outcome.ChosenAngle).Float64("score", rotation.BestStats.Score).
		Msg("orientation resolved")

	stageStart = time.Now()
	card := p.Localizer.Localize(outcome.Image, engine)
	observeStage(stageLocalizing, stageStart)
	if !card.Found {
		logger.Info().Err(ErrCardNotDetected).Msg("localization gate closed")
		return failureEnvelope(stageLocalizing, ReasonCardNotDetected, detailCardNotDetected, rotation)
	}

	stageStart = time.Now()
	normalized := NormalizeCard(card.Image)
	observeStage(stageNormalizing, stageStart)

	stageStart = time.Now()
	verdict := p.Checker.Check(normalized, engine)
	observeStage(stageQuality, stageStart)
	if !verdict.Passed {
		logger.Info().Err(errors.Wrap(ErrQualityRejected, verdict.Reason)).Msg("quality gate closed")
		return failureEnvelope(stageQuality, verdict.Reason, "", rotation)
	}

	stageStart = time.Now()
	payload, err := encodePNG(normalized)
	observeStage(stageEncoding, stageStart)
	if err != nil {
		logger.Error().Err(err).Msg("encoding card failed")
		return failureEnvelope(stageEncoding, ReasonProcessingFailed, err.Error(), rotation)
	}

	return p.extract(ctx, logger, payload, cardFilename, contentTypePNG, rotation)
}

func (p *Pipeline) extract(ctx context.Context, logger zerolog.Logger, payload []byte, filename, contentType string,
	rotation *RotationDiagnostics) ExtractionEnvelope {

	stageStart := time.Now()
	data, err := p.Extractor.Extract(ctx, payload, filename, contentType)
	observeStage(stageExtracting, stageStart)
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("extraction failed")
		return failureEnvelope(stageExtracting, ReasonExtractionFailed, extractionDetail(err), rotation)
	}
	logger.Debug().Str("filename", filename).Int("bytes", len(payload)).Msg("extraction succeeded")
	return successEnvelope(data, rotation)
}

// extractionDetail prefers the upstream body over the wrapped error text.
func extractionDetail(err error) string {
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) && extractionErr.Detail != "" {
		return extractionErr.Detail
	}
	return err.Error()
}

func encodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, errors.Wrap(err, "encode card")
	}
	return buf.Bytes(), nil
}

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
