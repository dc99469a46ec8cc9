package cardworker

import (
	"testing"

	"github.com/couchbaselabs/go.assert"
)

func TestDefaultWorkerConfigIsValid(t *testing.T) {
	config := DefaultWorkerConfig()
	assert.True(t, config.validate() == nil)
	assert.True(t, config.PoolSize() >= 1)

	config.Workers = 3
	assert.Equals(t, config.PoolSize(), 3)
}

func TestWorkerConfigValidate(t *testing.T) {
	config := DefaultWorkerConfig()
	config.Extractor.URL = "/extract"
	assert.True(t, config.validate() != nil)

	config = DefaultWorkerConfig()
	config.Extractor.Timeout = 0
	assert.True(t, config.validate() != nil)

	config = DefaultWorkerConfig()
	config.Workers = -1
	assert.True(t, config.validate() != nil)

	config = DefaultWorkerConfig()
	config.Engine.Languages = nil
	assert.True(t, config.validate() != nil)
	config.Engine.Type = EngineMock
	assert.True(t, config.validate() == nil)

	config = DefaultWorkerConfig()
	config.Rabbit.ResponseTimeout = 0
	assert.True(t, config.validate() != nil)
}

func TestSplitLanguages(t *testing.T) {
	languages := splitLanguages("eng+ hin +")
	assert.Equals(t, len(languages), 2)
	assert.Equals(t, languages[0], "eng")
	assert.Equals(t, languages[1], "hin")
	assert.Equals(t, len(splitLanguages("")), 0)
}

func TestCheckAbsoluteURL(t *testing.T) {
	_, err := checkAbsoluteURL("http://localhost:8000/extract")
	assert.True(t, err == nil)
	_, err = checkAbsoluteURL("localhost:8000")
	assert.True(t, err != nil)
}
