package orchestration

import (
	"fmt"
	"strings"
)

// coordinatorName is the reserved name of the orchestrator agent in
// histories and synthesis inputs.
const coordinatorName = "Coordinator"

// routingSystemPrompt enumerates the registry and the four actions.
func routingSystemPrompt(registry *Registry) string {
	var b strings.Builder
	b.WriteString("You are the Coordinator of a team of specialist agents. ")
	b.WriteString("Given the user's message, choose exactly one action and answer ")
	b.WriteString("with a single JSON object.\n\n")
	b.WriteString("Available specialists:\n")
	b.WriteString(registry.Describe())
	b.WriteString("\n\nActions:\n")
	b.WriteString(`- {"action":"direct_answer","answer":"<text>"} when you can answer alone.` + "\n")
	b.WriteString(`- {"action":"delegate","agent":"<name>","task":"<task>"} when one specialist suffices.` + "\n")
	b.WriteString(`- {"action":"collaborate","task":"<task>","agents":["<first>","<second>"]} when a fixed sequence of specialists is clearly required.` + "\n")
	b.WriteString(`- {"action":"research","objective":"<objective>","agents":["<candidates>"]} for open-ended questions needing multiple discovery steps.` + "\n")
	b.WriteString("\nRules: prefer direct_answer for general knowledge. Use the exact ")
	b.WriteString("specialist names listed above. Never invent a specialist.")
	return b.String()
}

// researchSystemPrompt frames the model as the loop's decision maker.
func researchSystemPrompt(agents []string) string {
	return "You are the Coordinator running a step-by-step investigation. " +
		"Each turn, either call the delegate function to send one task to one " +
		"specialist, or reply with your findings. Specialists available: " +
		strings.Join(agents, ", ") + "."
}

// researchSeedPrompt is the opening user message of a research session.
func researchSeedPrompt(objective string, agents []string) string {
	return fmt.Sprintf(
		"Research objective: %s\n\n"+
			"Plan and execute step-by-step using delegate(agent, task). "+
			"Available specialists: %s. "+
			"Delegate one task at a time, study each result, and decide the next step. "+
			"When you have gathered enough information, reply with your complete findings "+
			"starting with \"FINAL RESEARCH FINDINGS:\".",
		objective, strings.Join(agents, ", "))
}

// researchNudge pushes the model forward when it produced neither a
// delegation nor a completion.
const researchNudge = "What's your next step? Either delegate(agent, task) to gather more " +
	"information, or if you have enough, reply with your complete findings starting " +
	"with \"FINAL RESEARCH FINDINGS:\"."

// collaborationSeedPrompt pins the specialist order up front; otherwise
// the conversation is driven exactly like research.
func collaborationSeedPrompt(task string, agents []string) string {
	return fmt.Sprintf(
		"Task: %s\n\n"+
			"Work through the specialists strictly in this order: %s. "+
			"Use delegate(agent, task) for each in turn, passing along what earlier "+
			"specialists found. When every specialist has contributed, reply with your "+
			"complete findings starting with \"FINAL RESEARCH FINDINGS:\".",
		task, strings.Join(agents, " -> "))
}

// terminationPrompt asks the model for a binary completion verdict.
func terminationPrompt(question, finalMessage string, specialistResponses []string) string {
	var b strings.Builder
	b.WriteString("Decide whether this conversation has fully answered the user.\n\n")
	b.WriteString("User question: " + question + "\n\n")
	if len(specialistResponses) > 0 {
		b.WriteString("Specialist responses:\n")
		for _, r := range specialistResponses {
			b.WriteString("- " + r + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Candidate final message: " + finalMessage + "\n\n")
	b.WriteString("Reply with exactly one word: COMPLETE if the candidate final message ")
	b.WriteString("fully answers the question using the specialist data, or CONTINUE if ")
	b.WriteString("more work is needed.")
	return b.String()
}

// synthesisPrompt merges labeled specialist responses into one answer.
func synthesisPrompt(question string, labeled []string, coordinatorContext string) string {
	var b strings.Builder
	b.WriteString("Combine the specialist responses below into one final answer.\n\n")
	b.WriteString("Original question: " + question + "\n\n")
	b.WriteString("Specialist responses:\n")
	for _, r := range labeled {
		b.WriteString(r + "\n\n")
	}
	if coordinatorContext != "" {
		b.WriteString("Coordinator context: " + coordinatorContext + "\n\n")
	}
	b.WriteString("Requirements: merge and deduplicate the information, add connective ")
	b.WriteString("context where responses relate, and lead with the direct answer. ")
	b.WriteString("Do not mention the agents or their names in your output.")
	return b.String()
}
