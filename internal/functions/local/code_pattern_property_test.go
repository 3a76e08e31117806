package local

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func digitsGen(min, max int) gopter.Gen {
	return gen.IntRange(min, max).FlatMap(func(length interface{}) gopter.Gen {
		return gen.SliceOfN(length.(int), gen.NumChar()).Map(func(chars []rune) string {
			return string(chars)
		})
	}, reflect.TypeOf(""))
}

func wordGen() gopter.Gen {
	return gen.SliceOfN(12, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
}

// A standalone run of 4-8 digits is found exactly, leading zeros included,
// and runs outside that length range are never matched.
func TestProperty_FindCode(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("first_valid_run_is_returned", prop.ForAll(
		func(code, prefix, suffix string) bool {
			body := fmt.Sprintf("%s %s, %s", prefix, code, suffix)
			found, ok := FindCode(body)
			return ok && found == code && IsValidCode(found)
		},
		digitsGen(4, 8),
		wordGen(),
		wordGen(),
	))

	properties.Property("leading_zero_preserved", prop.ForAll(
		func(rest string) bool {
			code := "0" + rest
			found, ok := FindCode("code: " + code)
			return ok && found == code
		},
		digitsGen(3, 7),
	))

	properties.Property("short_run_before_code_is_skipped", prop.ForAll(
		func(short, code string) bool {
			found, ok := FindCode(fmt.Sprintf("id %s code %s end", short, code))
			return ok && found == code
		},
		digitsGen(1, 3),
		digitsGen(4, 8),
	))

	properties.Property("long_runs_never_match", prop.ForAll(
		func(long, word string) bool {
			_, ok := FindCode(word + " " + long + " " + word)
			return !ok
		},
		digitsGen(9, 14),
		wordGen(),
	))

	properties.Property("first_of_two_codes_wins", prop.ForAll(
		func(first, second string) bool {
			found, _ := FindCode(fmt.Sprintf("%s then %s", first, second))
			return found == first
		},
		digitsGen(4, 8),
		digitsGen(4, 8),
	))

	properties.TestingRun(t)
}

func TestFindCodeExamples(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{"id 123 code 45678 end", "45678", true},
		{"Your code is 483920, expires soon", "483920", true},
		{"order A12345 shipped", "", false},
		{"call 1234567890", "", false},
		{"", "", false},
		{"pin:0042.", "0042", true},
	}
	for _, tt := range tests {
		got, ok := FindCode(tt.body)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FindCode(%q) = %q, %v; want %q, %v", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsValidCode(t *testing.T) {
	valid := []string{"0000", "483920", "12345678"}
	invalid := []string{"", "123", "123456789", "12a4", " 1234", "１２３４"}
	for _, s := range valid {
		if !IsValidCode(s) {
			t.Errorf("IsValidCode(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if IsValidCode(s) {
			t.Errorf("IsValidCode(%q) = true", s)
		}
	}
}

func TestFindVerificationURL(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		markers []string
		want    string
	}{
		{
			name: "first qualifying url wins",
			body: "see https://help.netflix.com/faq then https://x.netflix.com/verify?nftoken=abc and https://x.netflix.com/code/2",
			want: "https://x.netflix.com/verify?nftoken=abc",
		},
		{
			name: "trailing punctuation trimmed",
			body: "Open (https://x.example.com/account/verify/123).",
			want: "https://x.example.com/account/verify/123",
		},
		{
			name: "marker in query only does not count",
			body: "https://x.example.com/home?next=verify",
			want: "",
		},
		{
			name: "html attribute with entities",
			body: `<a href="https://x.example.com/travel/code?a=1&amp;b=2">Get code</a>`,
			want: "https://x.example.com/travel/code?a=1&b=2",
		},
		{
			name:    "custom markers",
			body:    "https://x.example.com/verify https://x.example.com/confirm-device",
			markers: []string{"confirm"},
			want:    "https://x.example.com/confirm-device",
		},
		{
			name: "case insensitive path",
			body: "HTTPS://X.EXAMPLE.COM/VERIFY",
			want: "HTTPS://X.EXAMPLE.COM/VERIFY",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindVerificationURL(tt.body, tt.markers)
			if got != tt.want || ok != (tt.want != "") {
				t.Errorf("got %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>.x{color:#123456}</style></head><body><p>Your code</p><div><b>0042</b>&nbsp;&amp; more</div><script>var a=99999;</script></body></html>`
	got := HTMLToText(in)
	if code, ok := FindCode(got); !ok || code != "0042" {
		t.Fatalf("code from %q = %q", got, code)
	}
	if want := "Your code\n0042 & more"; got != want {
		t.Errorf("HTMLToText = %q, want %q", got, want)
	}
}

func TestHTMLToText_SkipsCommentsAndConditionalBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"comment with angle bracket", `<!-- build > 20240611 --><p>Your code is</p><p>4839</p>`, "Your code is\n4839"},
		{"conditional comment", `<!--[if mso]><table><tr><td>1234</td></tr></table><![endif]--><p>Code: 5821</p>`, "Code: 5821"},
		{"attribute with angle bracket", `<p title="a > 99999">Use 7310</p>`, "Use 7310"},
		{"adjacent cells", `<table><tr><td>2024</td><td>8812</td></tr></table>`, "2024 8812"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Errorf("HTMLToText = %q, want %q", got, tt.want)
			}
		})
	}

	code, _ := FindCode(HTMLToText(tests[0].in))
	if code != "4839" {
		t.Errorf("first code = %q, want 4839", code)
	}
}
