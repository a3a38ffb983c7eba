package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetUp(t *testing.T) {
	defer logrus.SetOutput(logrus.StandardLogger().Out)
	defer logrus.SetLevel(logrus.GetLevel())

	var buf bytes.Buffer
	require.NoError(t, SetUp("warn", &buf))

	L("manager").Info("hidden")
	L("manager").WithField("file_id", 1).Warn("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "manager", line["component"])
	assert.EqualValues(t, 1, line["file_id"])
	assert.Equal(t, "warning", line["level"])

	assert.Error(t, SetUp("loud", nil))
}
