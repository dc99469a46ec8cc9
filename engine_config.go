package cardworker

// EngineConfig selects and tunes the recognition engine of every worker.
type EngineConfig struct {
	Type      EngineType
	Languages []string
	// Variables are passed through to tesseract, eg "tessedit_pageseg_mode".
	Variables map[string]string
}

func DefaultEngineConfig() EngineConfig {

	engineConfig := EngineConfig{
		Type:      EngineTesseract,
		Languages: []string{"eng", "hin"},
	}
	return engineConfig

}
