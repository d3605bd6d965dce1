package domain

// AgentSettings configures what the calling agent says.
type AgentSettings struct {
	AgentName   string   `json:"agentName" yaml:"agent_name"`
	Greeting    string   `json:"greeting" yaml:"greeting"`
	MiniMiranda string   `json:"miniMiranda" yaml:"mini_miranda"`
	Disclaimers []string `json:"disclaimers" yaml:"disclaimers"`
}

// Debtor is the profile of the person being called.
type Debtor struct {
	Name           string  `json:"name"`
	Age            int     `json:"age,omitempty"`
	TotalOwed      float64 `json:"totalOwed"`
	DebtStatus     string  `json:"debtStatus,omitempty"`
	TypeOfDebt     string  `json:"typeOfDebt,omitempty"`
	DebtAge        int     `json:"debtAge,omitempty"`
	State          string  `json:"state,omitempty"`
	City           string  `json:"city,omitempty"`
	Zipcode        string  `json:"zipcode,omitempty"`
	Language       string  `json:"language,omitempty"`
	PaymentHistory string  `json:"paymentHistory,omitempty"`
	LastContact    string  `json:"lastContact,omitempty"`
}
