package extract

import "testing"

func TestDetectCompany(t *testing.T) {
	front := `ACME TRADING (PTY) LTD
Annual Financial Statements
Registration number: 2001/012345/07
for the year ended 28 February 2025`

	info := DetectCompany(front)
	if info.Name != "ACME TRADING (Pty) Ltd" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.RegistrationNumber != "2001/012345/07" {
		t.Errorf("RegistrationNumber = %q", info.RegistrationNumber)
	}
}

func TestDetectCompanyOCRJoined(t *testing.T) {
	info := DetectCompany("ACME TRADING(PTY)LTD\nReg. No: 1999/54321/07")
	if info.Name != "ACME TRADING (Pty) Ltd" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.RegistrationNumber != "1999/54321/07" {
		t.Errorf("RegistrationNumber = %q", info.RegistrationNumber)
	}
}

func TestDetectCompanyLimitedVariant(t *testing.T) {
	info := DetectCompany("Consolidated Financial Statements of Brightstone Holdings Limited")
	if info.Name == "" {
		t.Fatal("no name detected")
	}
}

func TestDetectCompanyNothing(t *testing.T) {
	info := DetectCompany("quarterly metrics, no identity here")
	if info.Name != "" || info.RegistrationNumber != "" {
		t.Errorf("expected empty, got %+v", info)
	}
}

func TestNameFromFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"3. Acme Trading (Pty) Ltd.xlsx", "Acme Trading"},
		{"acme_trading_ltd.xlsm", "acme trading"},
		{"Brightstone Holdings Limited.pdf", "Brightstone Holdings"},
		{"12.xlsx", "Unknown Company"},
	}
	for _, c := range cases {
		if got := NameFromFileName(c.in); got != c.want {
			t.Errorf("NameFromFileName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCleanNameForSearch(t *testing.T) {
	if got := CleanNameForSearch("Acme Trading (Pty) Ltd"); got != "Acme Trading" {
		t.Errorf("got %q", got)
	}
	if got := CleanNameForSearch("Brightstone Proprietary Limited"); got != "Brightstone" {
		t.Errorf("got %q", got)
	}
}
