package responsetransformer

import (
	"net/http"
	"net/url"
	"testing"
)

func TestRuleFinder(t *testing.T) {
	u := func(s string) *url.URL {
		parsed, _ := url.Parse(s)
		return parsed
	}

	rules := Rules{
		Rule{Prefix: "/wp-", Override: "no-cache"},
		Rule{Method: "POST", Path: "/search", Override: "max-age=60"},
		Rule{Host: "static.example.com", Override: "max-age=86400"},
		Rule{Query: map[string]string{"v": ""}, Override: "immutable"},
		Rule{Override: "default"},
	}

	if rule := rules.find("GET", u("http://example.com/")); rule == nil || rule.Override != "default" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("GET", u("http://example.com/wp-admin")); rule == nil || rule.Override != "no-cache" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("POST", u("http://example.com/wp-admin")); rule != nil {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("post", u("http://example.com/search")); rule == nil || rule.Override != "max-age=60" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("GET", u("http://STATIC.example.com/x")); rule == nil || rule.Override != "max-age=86400" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find("GET", u("http://example.com/app.js?v=3")); rule == nil || rule.Override != "immutable" {
		t.Fatal("Incorrect rule")
	}
}

func TestApplyToHeader(t *testing.T) {
	header := make(http.Header)
	ruleDefault := Rule{Default: "default"}
	ruleOverride := Rule{Override: "override", Headers: map[string]string{"X-Rule": "1"}}

	// try to apply default
	applyRuleToHeader(ruleDefault, header)
	if cc := header.Get("Cache-Control"); cc != "default" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// change cc and check default is not set
	header.Set("Cache-Control", "no-cache")
	applyRuleToHeader(ruleDefault, header)
	if cc := header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// check that override works
	applyRuleToHeader(ruleOverride, header)
	if cc := header.Get("Cache-Control"); cc != "override" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}
	if header.Get("X-Rule") != "1" {
		t.Fatalf("Extra header not set")
	}
}

func TestApplyOnlyToSuccess(t *testing.T) {
	rules := Rules{Rule{Override: "max-age=60"}}
	u, _ := url.Parse("http://example.com/")
	header := make(http.Header)
	if rules.Apply("GET", u, http.StatusNotFound, header) {
		t.Fatalf("Rule applied to 404")
	}
	if !rules.Apply("GET", u, http.StatusOK, header) || header.Get("Cache-Control") != "max-age=60" {
		t.Fatalf("Rule not applied to 200")
	}
}
