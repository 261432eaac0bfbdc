package verrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassesAreDisjoint(t *testing.T) {
	cause := errors.New("boom")
	ie := Integrity("metadata_hash", "hash mismatch", cause)
	we := Whitelist("whitelist_signatures", "threshold not met", nil)

	assert.True(t, IsIntegrity(ie))
	assert.False(t, IsWhitelist(ie))
	assert.True(t, IsWhitelist(we))
	assert.False(t, IsIntegrity(we))

	wrapped := fmt.Errorf("verify: %w", ie)
	assert.True(t, IsIntegrity(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "metadata_hash", StepOf(wrapped))
	assert.Equal(t, "whitelist_signatures", StepOf(we))
	assert.Equal(t, "", StepOf(cause))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		"integrity check failed at step 'decode': bad base64: boom",
		Integrity("decode", "bad base64", errors.New("boom")).Error())
	assert.Equal(t,
		"whitelist check failed at step 'rules': no rule",
		Whitelist("rules", "no rule", nil).Error())
}
