package auth

import "testing"

func TestMemoryProviderValidateHeadlessSession(t *testing.T) {
	p := NewMemoryProvider()
	p.RegisterSession("W1", "secret-token")

	if !p.ValidateHeadlessSession("W1", "secret-token") {
		t.Fatal("expected matching id/token to validate")
	}
	if p.ValidateHeadlessSession("W1", "wrong-token") {
		t.Fatal("expected mismatched token to fail")
	}
	if p.ValidateHeadlessSession("W2", "secret-token") {
		t.Fatal("expected unknown id to fail")
	}
	if p.ValidateHeadlessSession("", "") {
		t.Fatal("expected empty id/token to fail")
	}
}

func TestMemoryProviderQuotaEnforcement(t *testing.T) {
	p := NewMemoryProvider()
	p.RegisterAPIKey(CredentialRecord{APIKey: "key1", DailyQuota: 2})

	ok, err := p.CheckAndConsumeQuota("key1")
	if err != nil || !ok {
		t.Fatalf("expected first request within quota, got ok=%v err=%v", ok, err)
	}
	ok, err = p.CheckAndConsumeQuota("key1")
	if err != nil || !ok {
		t.Fatalf("expected second request within quota, got ok=%v err=%v", ok, err)
	}
	ok, err = p.CheckAndConsumeQuota("key1")
	if err != nil || ok {
		t.Fatal("expected third request to exceed quota")
	}
}

func TestMemoryProviderUnknownKeyRejected(t *testing.T) {
	p := NewMemoryProvider()
	ok, err := p.CheckAndConsumeQuota("ghost")
	if err != nil || ok {
		t.Fatal("expected unknown API key to be rejected")
	}
}

func TestMemoryProviderResetAllDaily(t *testing.T) {
	p := NewMemoryProvider()
	p.RegisterAPIKey(CredentialRecord{APIKey: "key1", DailyQuota: 1})
	if ok, _ := p.CheckAndConsumeQuota("key1"); !ok {
		t.Fatal("expected first request to succeed")
	}
	if ok, _ := p.CheckAndConsumeQuota("key1"); ok {
		t.Fatal("expected second request to be over quota before reset")
	}

	p.ResetAllDaily()

	if ok, _ := p.CheckAndConsumeQuota("key1"); !ok {
		t.Fatal("expected quota to be available again after ResetAllDaily")
	}
}
