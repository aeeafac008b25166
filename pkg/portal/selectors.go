// Package portal implements extract.FormSubmitter against the
// concrete judicial Portal (spec §4.7). Like pkg/captcha's Strategy
// implementations, every DOM touch point is configuration, not
// hardcoded markup this module has no authority over — the concrete
// Portal contract is a deployment detail layered on top of the
// extract interfaces.
package portal

// Selectors carries the case-search form's DOM touch points.
type Selectors struct {
	CaseNumberField string
	PartyNameField  string
	SubmitButton    string

	ResultsTable     string
	NoResultsBanner  string
	CaptchaErrorText string
	AntibotBanner    string

	BinnacleRow            string
	NotificationRowPrefix  string
	FileLinkPrefix         string
}

func DefaultSelectors() Selectors {
	return Selectors{
		CaseNumberField: "#txtExpediente",
		PartyNameField:  "#txtParte",
		SubmitButton:    "#btnBuscar",

		ResultsTable:     "#tblResultados",
		NoResultsBanner:  "#lblSinResultados",
		CaptchaErrorText: "#lblCaptchaError",
		AntibotBanner:    "#antibotInterposition",

		BinnacleRow:           "#tblBitacora tr.bitacora-row",
		NotificationRowPrefix: "#tblNotificaciones-",
		FileLinkPrefix:        "#lnkAdjunto-",
	}
}
