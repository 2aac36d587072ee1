package hub

// Inbound payloads. Each mirrors one supported "type".

type editIn struct {
	File    string                 `json:"file"`
	Edit    map[string]interface{} `json:"edit"`
	Version int                    `json:"version"`
}

type taskIn struct {
	Action string                 `json:"action"`
	Task   map[string]interface{} `json:"task"`
}

type voteIn struct {
	ProposalID string `json:"proposalId"`
	Vote       string `json:"vote"`
	Evidence   bool   `json:"evidence"`
}

type messageIn struct {
	Text string `json:"text"`
}

type spawnIn struct {
	Mode  string `json:"mode"`
	Task  string `json:"task"`
	Count int    `json:"count"`
}

type switchRoleIn struct {
	NewRole string `json:"newRole"`
}

type fileCloseIn struct {
	File string `json:"file"`
}

type typingIn struct {
	File     string `json:"file,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type cursorUpdateIn struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Outbound payloads.

type chatOut struct {
	SessionID   string `json:"sessionId"`
	AgentID     string `json:"agentId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Perspective string `json:"perspective,omitempty"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
}

type errorOut struct {
	Message string `json:"message"`
}

type editResolvedOut struct {
	File       string                 `json:"file"`
	Edit       map[string]interface{} `json:"edit"`
	ResolvedBy string                 `json:"resolvedBy,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
}

type taskUpdateOut struct {
	Event string                 `json:"event"`
	Task  map[string]interface{} `json:"task"`
}

type taskRejectionOut struct {
	Reason string `json:"reason"`
}

type decisionMadeOut struct {
	ProposalID     string   `json:"proposalId"`
	Decision       string   `json:"decision"`
	Confidence     float64  `json:"confidence"`
	DiversityScore float64  `json:"diversityScore"`
	Perspectives   []string `json:"perspectives"`
}

type agentsSpawnedOut struct {
	Agents interface{} `json:"agents"`
}

type diversityInterventionOut struct {
	Reason         string   `json:"reason"`
	RequiredAction string   `json:"requiredAction,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

type diversityMetricsOut struct {
	OverallDiversity        float64        `json:"overallDiversity"`
	AgreementRate           float64        `json:"agreementRate"`
	EvidenceRate            float64        `json:"evidenceRate"`
	PerspectiveDistribution map[string]int `json:"perspectiveDistribution"`
	RecentInterventions     int            `json:"recentInterventions"`
}

type sessionUpdateOut struct {
	Event   string      `json:"event"`
	Session interface{} `json:"session"`
}

type sessionCleanupOut struct {
	CleanedSessions int    `json:"cleanedSessions"`
	Timestamp       string `json:"timestamp"`
}

type roleChangedOut struct {
	OldRole string `json:"oldRole"`
	NewRole string `json:"newRole"`
	AgentID string `json:"agentId"`
}

type identityCardOut struct {
	Card interface{} `json:"card"`
}

type historyReportOut struct {
	Report string `json:"report"`
}

type realtimeUpdateOut struct {
	UpdateType string      `json:"updateType"`
	Data       interface{} `json:"data,omitempty"`
}

type concurrentEditingWarningOut struct {
	Filepath     string   `json:"filepath"`
	OtherEditors []string `json:"otherEditors"`
}

type typingIndicatorOut struct {
	AgentID  string `json:"agentId"`
	File     string `json:"file,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type interventionRequiredOut struct {
	Reason         string   `json:"reason"`
	AgentID        string   `json:"agentId,omitempty"`
	RequiredAction string   `json:"requiredAction,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

type cursorUpdateOut struct {
	File     string `json:"file"`
	EditorID string `json:"editorId"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}
