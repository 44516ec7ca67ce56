package util

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	logger, err := SetupSlog(LogOptions{Level: "warn", Format: "json", Out: &buf})
	assert.NoError(err)
	logger.Info("hidden")
	logger.Warn("shown", "username", "spam_42")

	var line map[string]any
	assert.NoError(json.Unmarshal(buf.Bytes(), &line))
	assert.Equal("shown", line["msg"])
	assert.Equal("spam_42", line["username"])

	_, err = SetupSlog(LogOptions{Level: "loud", Out: &buf})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{Format: "xml", Out: &buf})
	assert.Error(err)
}
