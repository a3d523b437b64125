package mx

import (
	"testing"

	"github.com/deliverkit/verifier/db"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantOrg Organization
	}{
		{"google mx", "aspmx.l.google.com", OrgGoogle},
		{"microsoft protection", "example-com.mail.protection.outlook.com", OrgMicrosoft},
		{"yahoo dns", "mta5.am0.yahoodns.net", OrgYahoo},
		{"apple", "mx01.mail.icloud.com", OrgApple},
		{"protonmail", "mail.protonmail.ch", OrgProtonMail},
		{"fastmail", "in1-smtp.messagingengine.com", OrgFastmail},
		{"zoho", "mx.zoho.com", OrgZoho},
		{"yandex", "mx.yandex.net", OrgYandex},
		{"mailru", "mxs.mail.ru", OrgMailRu},
		{"gmx", "mx00.gmx.net", OrgGMX},
		{"mailgun", "mxa.mailgun.org", OrgMailgun},
		{"sendgrid", "mx.sendgrid.net", OrgSendGrid},
		{"amazon ses", "inbound-smtp.us-east-1.amazonaws.com", OrgAmazonSES},
		{"business prefix", "mx.somecorp.example", OrgBusinessSMTPStandard},
		{"mimecast relay", "eu-smtp-inbound-1.mimecast.com", OrgBusinessSMTPStandard},
		{"plain standalone exchanger", "relay1.smallbiz.example", OrgStandard},
		{"standalone with trailing dot", "inbound.corp.example.", OrgStandard},
		{"unknown single-label host", "weirdhost", OrgUnknownMXConservative},
		{"unknown malformed host", "_dmarc.example.com", OrgUnknownMXConservative},
		{"empty host", "", OrgUnknownMXUltraConservative},
		{"case insensitive", "ASPMX.L.GOOGLE.COM", OrgGoogle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org, profile := Classify(tt.host)
			if org != tt.wantOrg {
				t.Fatalf("Classify(%q) org = %q, want %q", tt.host, org, tt.wantOrg)
			}
			if profile.BatchSize < 1 {
				t.Fatalf("Classify(%q) profile has BatchSize %d", tt.host, profile.BatchSize)
			}
			if profile.RateLimit.RequestsPerSecond <= 0 {
				t.Fatalf("Classify(%q) profile has no rate limit", tt.host)
			}
		})
	}
}

func TestClassify_UnknownTiersAreConservative(t *testing.T) {
	_, unknown := Classify("weirdhost")
	_, ultra := Classify("")
	if unknown.ParallelConnections != 1 || ultra.ParallelConnections != 1 {
		t.Fatalf("unknown tiers must probe over a single connection, got %d and %d",
			unknown.ParallelConnections, ultra.ParallelConnections)
	}
	if ultra.BatchSize != 1 {
		t.Fatalf("ultra-conservative tier must probe one recipient at a time, got batch size %d", ultra.BatchSize)
	}
	if ultra.RateLimit.RequestsPerSecond >= unknown.RateLimit.RequestsPerSecond {
		t.Fatal("ultra-conservative tier should be rate-limited below the conservative tier")
	}
}

func TestIsSingleRecipientHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"aspmx.l.google.com", true},
		{"example-com.mail.protection.outlook.com", true},
		{"mx01.mail.icloud.com", true},
		{"mx.zoho.com", false},
		{"in1-smtp.messagingengine.com", false},
	}
	for _, tt := range tests {
		if got := IsSingleRecipientHost(tt.host); got != tt.want {
			t.Errorf("IsSingleRecipientHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestLowestPref(t *testing.T) {
	records := []db.MXRecord{
		{Host: "backup.example.com", Pref: 20},
		{Host: "primary.example.com", Pref: 5},
		{Host: "secondary.example.com", Pref: 10},
	}
	best, ok := LowestPref(records)
	if !ok {
		t.Fatal("expected a record")
	}
	if best.Host != "primary.example.com" {
		t.Fatalf("LowestPref picked %q, want primary.example.com", best.Host)
	}

	if _, ok := LowestPref(nil); ok {
		t.Fatal("expected no record for an empty set")
	}
}
