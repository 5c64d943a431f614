package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "ab...yz", TruncateString("abcdefghijklmnopqrstuvwxyz", 7))
	assert.Equal(t, "简历...内容", TruncateString("简历"+strings.Repeat("中", 20)+"内容", 7))
}

func TestSafeAttributeValueMasksSensitiveKeys(t *testing.T) {
	assert.Equal(t, "ja********om", SafeAttributeValue("candidate.email", "jane@doe.com", 100))
	assert.Equal(t, "ja********cx", SafeAttributeValue("filename", "jane_cv.docx", 100))
	assert.Equal(t, "resume/1.pdf", SafeAttributeValue("document.ref", "resume/1.pdf", 100))
}

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "a*", MaskPII("ab"))
	assert.Equal(t, "a**d", MaskPII("abcd"))
	assert.Equal(t, "jo****************om", MaskPII("john.doe@example.com"))
}
