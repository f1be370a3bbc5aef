package webhook

import (
	"testing"
	"time"
)

func TestClassifyListTrendsKeyword(t *testing.T) {
	t.Parallel()

	c := Classify("list-trends")
	if c.Kind != KindTrends || c.Direct {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyTrendReference(t *testing.T) {
	t.Parallel()

	c := Classify("show me trend #12 please")
	if c.Kind != KindTopics || c.TrendID != "12" {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyTopicReference(t *testing.T) {
	t.Parallel()

	c := Classify("topic #7")
	if c.Kind != KindSummary || c.TopicID != "7" {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyTrendAndTopicPair(t *testing.T) {
	t.Parallel()

	c := Classify("trend #3 topic #9")
	if c.Kind != KindSummary || c.TopicID != "9" || c.TrendID != "3" {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyFreeTextDefaultsToTrends(t *testing.T) {
	t.Parallel()

	c := Classify("assuntos")
	if c.Kind != KindTrends || c.Direct {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyMalformedReferenceBypassesCache(t *testing.T) {
	t.Parallel()

	c := Classify("trend # please")
	if !c.Direct {
		t.Fatalf("expected direct classification, got %+v", c)
	}
}

func TestCacheParamsPerKind(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)

	trends := Classification{Kind: KindTrends}.CacheParams("a@b.com", now)
	if trends["d"] != "2026-08-29" || len(trends) != 1 {
		t.Errorf("unexpected trends params: %v", trends)
	}

	topics := Classification{Kind: KindTopics, TrendID: "5"}.CacheParams("a@b.com", now)
	if topics["trend"] != "5" || topics["d"] != "2026-08-29" {
		t.Errorf("unexpected topics params: %v", topics)
	}

	summary := Classification{Kind: KindSummary, TopicID: "7"}.CacheParams("a@b.com", now)
	if summary["topic"] != "7" || summary["d"] != "2026-08-29" {
		t.Errorf("unexpected summary params: %v", summary)
	}
	if summary["u"] == "" || summary["u"] == "a@b.com" {
		t.Errorf("email must be hashed in the key, got %q", summary["u"])
	}
}

func TestHashEmailNormalizes(t *testing.T) {
	t.Parallel()

	if HashEmail(" User@Example.COM ") != HashEmail("user@example.com") {
		t.Fatal("hash should be case- and whitespace-insensitive")
	}
	if HashEmail("a@b.com") == HashEmail("c@d.com") {
		t.Fatal("distinct emails should hash differently")
	}
	if len(HashEmail("a@b.com")) != 16 {
		t.Fatalf("unexpected hash length: %d", len(HashEmail("a@b.com")))
	}
}
