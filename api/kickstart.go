package api

// KickstartMessage is a problem found while processing a kickstart.
type KickstartMessage struct {
	Message    string `json:"message"     yaml:"message"`
	LineNumber int    `json:"line_number" yaml:"line_number"`
}

// KickstartReport is the result of processing a kickstart.
type KickstartReport struct {
	Errors   []KickstartMessage `json:"errors"   yaml:"errors"`
	Warnings []KickstartMessage `json:"warnings" yaml:"warnings"`
}

// IsValid reports whether the kickstart was accepted.
func (r KickstartReport) IsValid() bool {
	return len(r.Errors) == 0
}
