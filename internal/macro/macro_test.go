package macro

import (
	"errors"
	"net/url"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vals     Values
		want     string
	}{
		{
			name:     "basic substitution",
			template: "https://x.com/?c={click_id}&s={sub1}",
			vals:     Values{"click_id": "42", "sub1": "fb"},
			want:     "https://x.com/?c=42&s=fb",
		},
		{
			name:     "unknown placeholder left verbatim",
			template: "https://x.com/?c={click_id}&s={sub2}",
			vals:     Values{"click_id": "42"},
			want:     "https://x.com/?c=42&s={sub2}",
		},
		{
			name:     "case sensitive",
			template: "https://x.com/?c={Click_ID}",
			vals:     Values{"click_id": "42"},
			want:     "https://x.com/?c={Click_ID}",
		},
		{
			name:     "substituted value is not re-scanned",
			template: "https://x.com/?a={sub1}&b={sub2}",
			vals:     Values{"sub1": "{sub2}", "sub2": "deep"},
			want:     "https://x.com/?a={sub2}&b=deep",
		},
		{
			name:     "no placeholders",
			template: "https://x.com/plain",
			vals:     Values{"click_id": "42"},
			want:     "https://x.com/plain",
		},
		{
			name:     "unterminated brace left as-is",
			template: "https://x.com/?c={click_id",
			vals:     Values{"click_id": "42"},
			want:     "https://x.com/?c={click_id",
		},
		{
			name:     "adjacent placeholders",
			template: "{country}{city}",
			vals:     Values{"country": "US", "city": "NYC"},
			want:     "USNYC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.template, tt.vals); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildURL(t *testing.T) {
	got, err := BuildURL("https://net.example/track?cid={click_id}", Values{"click_id": "abc"})
	if err != nil {
		t.Fatalf("BuildURL() error = %v", err)
	}
	if want := "https://net.example/track?cid=abc"; got != want {
		t.Errorf("BuildURL() = %q, want %q", got, want)
	}
}

func TestBuildURLInvalidTemplate(t *testing.T) {
	for _, template := range []string{"://broken", "not a url at all", "/relative/only"} {
		if _, err := BuildURL(template, Values{}); !errors.Is(err, ErrInvalidTemplate) {
			t.Errorf("BuildURL(%q) error = %v, want ErrInvalidTemplate", template, err)
		}
	}
}

func TestValuesSetSkipsEmpty(t *testing.T) {
	v := Values{}
	v.Set("country", "")
	v.Set("city", "NYC")
	if _, ok := v["country"]; ok {
		t.Error("empty value should not be stored")
	}
	if v["city"] != "NYC" {
		t.Error("non-empty value should be stored")
	}
}

func TestChannelFormatExtractSubs(t *testing.T) {
	f := NewChannelFormat(map[string]string{"sub1": "utm_content", "sub2": "utm_term"})

	q := url.Values{}
	q.Set("utm_content", "banner-a")
	q.Set("utm_term", "kw")
	q.Set("sub3", "plain")

	subs := f.ExtractSubs(q)
	if subs["sub1"] != "banner-a" || subs["sub2"] != "kw" || subs["sub3"] != "plain" {
		t.Errorf("ExtractSubs() = %v", subs)
	}
	if len(subs) != 3 {
		t.Errorf("ExtractSubs() returned %d entries, want 3", len(subs))
	}
}

func TestChannelFormatAppendParams(t *testing.T) {
	f := NewChannelFormat(nil)

	got, err := f.AppendParams("https://lander.example/lp?v=1", "ck-9", map[string]string{"sub1": "xyz"})
	if err != nil {
		t.Fatalf("AppendParams() error = %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("result not a url: %v", err)
	}
	q := u.Query()
	if q.Get("click_id") != "ck-9" || q.Get("sub1") != "xyz" || q.Get("v") != "1" {
		t.Errorf("AppendParams() = %q", got)
	}
}

func TestChannelFormatAppendParamsBadURL(t *testing.T) {
	f := NewChannelFormat(nil)
	if _, err := f.AppendParams("relative/path", "ck", nil); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("error = %v, want ErrInvalidTemplate", err)
	}
}
