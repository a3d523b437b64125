package smtp

import "testing"

func TestAnalyzeGreylist(t *testing.T) {
	cases := []struct {
		name         string
		code         int
		message      string
		wantGreylist bool
	}{
		{"high confidence keyword", 450, "Greylisted, please try again later", true},
		{"google server pattern", 450, "4.2.1 The user you are trying to contact is receiving mail at a rate that prevents additional messages", true},
		{"medium confidence with qualifying status", 451, "Temporarily deferred due to load", true},
		{"medium confidence without qualifying status", 250, "temporarily ok", false},
		{"low confidence never qualifies alone", 450, "please retry", false},
		{"anti-pattern wins over greylist language", 452, "mailbox full, insufficient storage, try again later", false},
		{"clean accept", 250, "OK", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := AnalyzeGreylist(tc.code, tc.message)
			if v.qualifies(tc.code) != tc.wantGreylist {
				t.Errorf("qualifies(%d, %q) = %v, want %v", tc.code, tc.message, v.qualifies(tc.code), tc.wantGreylist)
			}
		})
	}
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		message string
		want    ErrorKind
	}{
		{"full inbox", 552, "mailbox full, quota exceeded", ErrFullInbox},
		{"relay blocked", 554, "relay access denied, not allowed", ErrNotAllowed},
		{"blacklisted", 550, "blocked by spamhaus, poor reputation", ErrBlocked},
		{"invalid recipient", 550, "user unknown, no such user", ErrServerUnavailable},
		{"greylisted", 450, "greylisted, try again soon", ErrGreylist},
		{"not-allowed phrasing on a 5xx", 553, "mailbox name not allowed", ErrNotAllowed},
		{"generic permanent", 550, "transaction failed", ErrPermanent},
		{"protocol error", 421, "service not available", ErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyResponse(tc.code, tc.message)
			if got.Kind != tc.want {
				t.Errorf("ClassifyResponse(%d, %q).Kind = %v, want %v", tc.code, tc.message, got.Kind, tc.want)
			}
		})
	}
}

func TestErrorVerdictIsRelayBlocked(t *testing.T) {
	v := ClassifyResponse(554, "relay access denied")
	if !v.IsRelayBlocked() {
		t.Error("expected relay-access-denied response to report IsRelayBlocked")
	}

	v = ClassifyResponse(550, "user unknown")
	if v.IsRelayBlocked() {
		t.Error("did not expect invalid-recipient response to report IsRelayBlocked")
	}
}
