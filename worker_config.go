package cardworker

import (
	"flag"
	"strings"

	"github.com/pkg/errors"
)

type WorkerConfig struct {
	Rabbit    RabbitConfig
	Extractor ExtractorConfig
	Engine    EngineConfig
	// Workers is the local pool size; zero sizes the pool from the cpu count.
	Workers  int
	Pdftoppm string
	Debug    bool
}

func DefaultWorkerConfig() WorkerConfig {

	workerConfig := WorkerConfig{
		Rabbit:    DefaultRabbitConfig(),
		Extractor: DefaultExtractorConfig(),
		Engine:    DefaultEngineConfig(),
		Workers:   0,
		Pdftoppm:  "pdftoppm",
		Debug:     false,
	}
	return workerConfig

}

type FlagFunctionWorker func()

func NoOpFlagFunctionWorker() FlagFunctionWorker {
	return func() {}
}

// DefaultConfigFlagsWorkerOverride registers the processing and amqp flags next
// to the ones added by flagFunction and parses the command line.
func DefaultConfigFlagsWorkerOverride(flagFunction FlagFunctionWorker) (WorkerConfig, error) {
	workerConfig := DefaultWorkerConfig()

	flagFunction()
	var (
		engine    string
		languages string
	)
	flag.StringVar(
		&workerConfig.Extractor.URL,
		"extractor_url",
		workerConfig.Extractor.URL,
		"The extraction service endpoint, eg: https://extractor.internal/extract",
	)
	flag.DurationVar(
		&workerConfig.Extractor.Timeout,
		"extractor_timeout",
		workerConfig.Extractor.Timeout,
		"timeout of one extraction call",
	)
	flag.BoolVar(
		&workerConfig.Extractor.InsecureSkipVerify,
		"insecure_skip_verify",
		false,
		"skip certificate verification of the extraction service, never use in production",
	)
	flag.IntVar(
		&workerConfig.Workers,
		"workers",
		0,
		"number of local workers, 0 means one less than the number of cpus",
	)
	flag.StringVar(
		&engine,
		"engine",
		"tesseract",
		"recognition engine, eg: -engine {tesseract,mock}",
	)
	flag.StringVar(
		&languages,
		"languages",
		strings.Join(workerConfig.Engine.Languages, "+"),
		"tesseract languages joined by +, eg: eng+hin",
	)
	flag.StringVar(
		&workerConfig.Pdftoppm,
		"pdftoppm",
		workerConfig.Pdftoppm,
		"path to the poppler pdftoppm binary used to render single page pdfs",
	)
	flag.BoolVar(
		&workerConfig.Debug,
		"debug",
		false,
		"sets debug flag, program will print more messages",
	)
	addRabbitFlags(&workerConfig.Rabbit)

	flag.Parse()

	engineType, err := ParseEngineType(engine)
	if err != nil {
		return workerConfig, err
	}
	workerConfig.Engine.Type = engineType
	workerConfig.Engine.Languages = splitLanguages(languages)

	return workerConfig, workerConfig.validate()
}

func (c WorkerConfig) validate() error {
	if _, err := checkAbsoluteURL(c.Extractor.URL); err != nil {
		return errors.Wrap(err, "extractor_url")
	}
	if c.Extractor.Timeout <= 0 {
		return errors.New("extractor_timeout must be positive")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.Engine.Type == EngineTesseract && len(c.Engine.Languages) == 0 {
		return errors.New("tesseract needs at least one language")
	}
	return c.Rabbit.validate()
}

// PoolSize resolves the configured worker count.
func (c WorkerConfig) PoolSize() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultPoolSize()
}

// NewLocalWorkerPool builds the pipeline from the configuration and starts a pool
// running it.
func (c WorkerConfig) NewLocalWorkerPool() *WorkerPool {
	rasterizer := PdftoppmRasterizer{Binary: c.Pdftoppm, Timeout: defaultRasterTimeout}
	pipeline := NewPipeline(NewDecoder(rasterizer), NewExtractionClient(c.Extractor))
	return NewWorkerPool(pipeline, NewRecognizerFactory(c.Engine), c.PoolSize())
}

func splitLanguages(languages string) []string {
	var result []string
	for _, lang := range strings.Split(languages, "+") {
		if lang = strings.TrimSpace(lang); lang != "" {
			result = append(result, lang)
		}
	}
	return result
}
