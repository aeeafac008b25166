package captcha

// Selectors carries the Portal DOM touch points each Strategy needs.
// Their concrete values belong to the deployment's Extractor layer
// (spec §4.7 leaves the DOM contract out of scope); Config just gives
// every Strategy a single place to receive them instead of hardcoding
// markup this module has no authority over.
type Selectors struct {
	AudioTriggerButton string
	AudioHiddenField   string
	AudioVisibleField  string

	ImageElement        string
	ImageVisibleField   string
	ImageAntibotField   string

	ChallengeIframe      string
	ChallengeSiteKeyAttr string
	ChallengeTokenFields []string
	ChallengeCallbackJS  string
}

func DefaultSelectors() Selectors {
	return Selectors{
		AudioTriggerButton: "#captcha-audio-trigger",
		AudioHiddenField:   "#captcha-audio-answer",
		AudioVisibleField:  "#captcha-code",

		ImageElement:      "#captcha-image",
		ImageVisibleField: "#captcha-code",
		ImageAntibotField: "#antibot-token",

		ChallengeIframe:      "iframe[data-challenge]",
		ChallengeSiteKeyAttr: "data-sitekey",
		ChallengeTokenFields: []string{"#g-response", "#h-captcha-response"},
		ChallengeCallbackJS:  "window.__onChallengeSolved",
	}
}
