package cardworker

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/couchbaselabs/go.assert"
)

func TestEngineTypeJson(t *testing.T) {

	testJson := `{"engine":"tesseract"}`
	config := struct {
		Engine EngineType `json:"engine"`
	}{}
	err := json.Unmarshal([]byte(testJson), &config)
	assert.True(t, err == nil)
	assert.Equals(t, config.Engine, EngineTesseract)

	testJson = `{"engine":"ENGINE_MOCK"}`
	err = json.Unmarshal([]byte(testJson), &config)
	assert.True(t, err == nil)
	assert.Equals(t, config.Engine, EngineMock)

	testJson = `{"engine":0}`
	err = json.Unmarshal([]byte(testJson), &config)
	assert.True(t, err == nil)
	assert.Equals(t, config.Engine, EngineTesseract)

	// unknown names fall back to the mock engine
	testJson = `{"engine":"easyocr"}`
	err = json.Unmarshal([]byte(testJson), &config)
	assert.True(t, err == nil)
	assert.Equals(t, config.Engine, EngineMock)

	testJson = `{"engine":[1]}`
	err = json.Unmarshal([]byte(testJson), &config)
	assert.True(t, err != nil)

}

func TestParseEngineType(t *testing.T) {
	engineType, err := ParseEngineType("Tesseract")
	assert.True(t, err == nil)
	assert.Equals(t, engineType.String(), "ENGINE_TESSERACT")

	engineType, err = ParseEngineType("mock")
	assert.True(t, err == nil)
	assert.Equals(t, engineType.String(), "ENGINE_MOCK")

	_, err = ParseEngineType("paddle")
	assert.True(t, err != nil)
}

func TestMockEngineReadsHorizontalLines(t *testing.T) {
	engine := &MockEngine{}
	regions, err := engine.Recognize(cardImage())
	assert.True(t, err == nil)
	assert.Equals(t, len(regions), 5)
	for _, region := range regions {
		assert.Equals(t, region.Confidence, mockHorizontalConfidence)
		assert.Equals(t, region.Bounds.Dx(), 400)
		assert.Equals(t, region.Bounds.Dy(), 20)
		assert.Equals(t, region.Text, MockEngineText)
	}
	assert.Equals(t, regions[0].Bounds.Min, image.Pt(100, 60))
}

func TestMockEngineSidewaysText(t *testing.T) {
	sideways, err := rotateImage(cardImage(), 90)
	assert.True(t, err == nil)

	regions, err := (&MockEngine{}).Recognize(sideways)
	assert.True(t, err == nil)
	// every row crosses all bars, so the whole block reads as one tall line
	assert.Equals(t, len(regions), 1)
	assert.Equals(t, regions[0].Confidence, mockVerticalConfidence)
}

func TestMockEngineBlankImage(t *testing.T) {
	regions, err := (&MockEngine{}).Recognize(blankImage(50, 50, image.White.C))
	assert.True(t, err == nil)
	assert.Equals(t, len(regions), 0)
}

func TestRecognizerFactory(t *testing.T) {
	engine, err := mockFactory()()
	assert.True(t, err == nil)
	_, isMock := engine.(*MockEngine)
	assert.True(t, isMock)
	assert.True(t, engine.Close() == nil)

	_, err = NewRecognizerFactory(EngineConfig{Type: EngineType(42)})()
	assert.True(t, err != nil)
}
