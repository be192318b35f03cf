package cel

// MatchExpressionExamples are CEL routing clauses accepted by the evaluator.
var MatchExpressionExamples = map[string]string{
	"action_equals":     `attrs["Action"] == "Form_A"`,
	"guarded_lookup":    `"FinalRecipient" in attrs && attrs["FinalRecipient"].startsWith("urn:eu:")`,
	"service_in_list":   `attrs["ServiceName"] in ["EPO", "SmallClaims"]`,
	"direction_only":    `direction == "GATEWAY_TO_BACKEND"`,
	"domain_and_party":  `domain == "lane-b" && attrs["FromPartyId"] == "AT"`,
	"regex_on_service":  `attrs["ServiceType"].matches("^urn:e-codex:services:.*")`,
	"negated_condition": `!(attrs["Action"] == "SubmissionAcceptanceRejection")`,
}
