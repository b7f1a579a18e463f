package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpeakable(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text unchanged", in: "Your order ships tomorrow.", want: "Your order ships tomorrow."},
		{name: "emphasis markers", in: "Sure, **let me** check your account.", want: "Sure, let me check your account."},
		{name: "emoji and symbols", in: "Done 😊 ✅ thanks!", want: "Done thanks!"},
		{name: "link keeps label", in: "See [our hours page](https://example.com/hours) for details.", want: "See our hours page for details."},
		{name: "bare url dropped", in: "Visit https://example.com/help today", want: "Visit today"},
		{name: "code removed", in: "Run ```\nmake\n``` then `reset` now", want: "Run then now"},
		{name: "list markers", in: "Options:\n- billing\n- support\n2. sales", want: "Options: billing support sales"},
		{name: "status tag kept", in: "[AI error] Please try again. (openai timed out)", want: "[AI error] Please try again. (openai timed out)"},
		{name: "slashes and pipes", in: "yes/no | maybe", want: "yes no maybe"},
		{name: "blank", in: "  \n\t ", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, speakable(tc.in))
		})
	}
}
