package config

// DefaultDenylistDomains returns a curated list of domains whose activity
// should never be captured: banking, password managers, healthcare portals,
// and authentication providers.
func DefaultDenylistDomains() []string {
	return []string{
		// Banking & Financial
		"chase.com",
		"bankofamerica.com",
		"wellsfargo.com",
		"citi.com",
		"usbank.com",
		"capitalone.com",
		"schwab.com",
		"fidelity.com",
		"vanguard.com",
		"paypal.com",
		"venmo.com",

		// Password Managers
		"1password.com",
		"lastpass.com",
		"bitwarden.com",
		"dashlane.com",

		// Authentication & Identity
		"accounts.google.com",
		"login.microsoftonline.com",
		"login.live.com",
		"auth0.com",
		"okta.com",
		"duo.com",

		// Healthcare & Medical
		"mychart.com",
		"healthcare.gov",
		"medicare.gov",

		// Government & Tax
		"irs.gov",
		"ssa.gov",
		"login.gov",
		"id.me",
		"turbotax.intuit.com",

		// Crypto & Trading
		"coinbase.com",
		"binance.com",
		"kraken.com",
	}
}
