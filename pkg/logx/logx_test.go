package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(false)
	assert.False(t, IsDebugEnabledForDomain("stream"))

	SetDebug(true)
	defer SetDebug(false)

	debugMutex.Lock()
	debugConfig.domains = nil
	debugMutex.Unlock()
	assert.True(t, IsDebugEnabledForDomain("stream"))
	assert.True(t, IsDebugEnabledForDomain("session"))

	debugMutex.Lock()
	debugConfig.domains = map[string]bool{"stream": true}
	debugMutex.Unlock()
	defer func() {
		debugMutex.Lock()
		debugConfig.domains = nil
		debugMutex.Unlock()
	}()
	assert.True(t, IsDebugEnabledForDomain("stream"))
	assert.False(t, IsDebugEnabledForDomain("session"))
}
