package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupMethodKnown(t *testing.T) {
	cm, spec, err := lookupMethod(classConnection, 10)
	assert.NoError(t, err)
	assert.Equal(t, classMethod{classConnection, 10}, cm)
	assert.Equal(t, "Start", spec.name)
}

func TestLookupMethodUnknown(t *testing.T) {
	_, _, err := lookupMethod(999, 999)
	assert.Error(t, err)
	var amqpErr *Error
	assert.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, CodeUnknownMethod, amqpErr.Code)
}

func TestClassMethodString(t *testing.T) {
	cm := classMethod{classBasic, 40}
	assert.Equal(t, "Basic.Publish", cm.String())
}

func TestClassMethodNeedContentHeaderCoversPublishFamily(t *testing.T) {
	for _, cm := range []classMethod{
		{classBasic, 40}, // Publish
		{classBasic, 50}, // Return
		{classBasic, 60}, // Deliver
		{classBasic, 71}, // Get-Ok
	} {
		_, ok := classMethodNeedContentHeader[cm]
		assert.Truef(t, ok, "expected %s to require a content header", cm)
	}
}

func TestEveryMethodSpecResolvesItsPairedReply(t *testing.T) {
	for cm, spec := range methodSpecs {
		replyName, ok := classMethodPairs[spec.name]
		if !ok {
			continue
		}
		found := false
		for candidate, candidateSpec := range methodSpecs {
			if candidate.ClassID == cm.ClassID && candidateSpec.name == replyName {
				found = true
				break
			}
		}
		assert.Truef(t, found, "no reply method named %q in class %s for %s", replyName, classNames[cm.ClassID], spec.name)
	}
}
