package generation

import (
	"fmt"
	"strings"

	"loreweave.ai/internal/sim/chronicle"
)

const narratorSystem = `You are the narrator of a text role-playing game.
Write the next passage in second person, present tense, in at most three short paragraphs.
The engine owns the map: never move the player anywhere except where a validated move says.
Reply with JSON only: {"narrative": string, "directives": [...]}.
Directive types:
  {"type":"move","location":ID}                  only the validated destination
  {"type":"enter_package","package":ID}          walk to that package's entry point
  {"type":"scripted_move","event":EVENT_ID}       trigger a scripted event of the current package
  {"type":"complete_package","package":ID}
  {"type":"cross_event","package":ID,"text":TEXT} something that will matter when the player visits ID
  {"type":"entities","names":[NAME,...]}          named characters, items or places introduced this turn`

const summarizerSystem = `You condense role-playing transcripts.
Keep every named character, item and place that appears, and every event that changes the story state.
Reply with JSON only: {"summary": string, "entities": [string], "events": [{"kind": string, "subject": string, "text": string}]}.`

func narrationPrompt(req NarrationRequest) string {
	var b strings.Builder
	b.WriteString(req.Context.Render())
	b.WriteString("\nCURRENT SCENE\n")
	if req.Package != "" {
		fmt.Fprintf(&b, "package: %s\n", req.Package)
	}
	fmt.Fprintf(&b, "location: %s (%s)\n", req.Location.Name, req.Location.ID)
	if len(req.Neighbors) > 0 {
		names := make([]string, 0, len(req.Neighbors))
		for _, n := range req.Neighbors {
			names = append(names, fmt.Sprintf("%s (%s)", n.Name, n.ID))
		}
		fmt.Fprintf(&b, "exits: %s\n", strings.Join(names, ", "))
	}
	for _, o := range req.Objectives {
		fmt.Fprintf(&b, "objective: %s\n", o)
	}
	if req.Move != nil {
		fmt.Fprintf(&b, "validated move: %s via %s\n", req.Move.To, strings.Join(req.Move.Path, " > "))
	}
	if req.Rejection != "" {
		fmt.Fprintf(&b, "the player cannot do this: %s. Explain it within the story.\n", req.Rejection)
	}
	fmt.Fprintf(&b, "\nPLAYER\n%s\n", req.Input)
	return b.String()
}

func summaryPrompt(req chronicle.SummaryRequest) string {
	var b strings.Builder
	if len(req.KnownEntities) > 0 {
		fmt.Fprintf(&b, "Already known: %s\n\n", strings.Join(req.KnownEntities, ", "))
	}
	if req.Archive {
		fmt.Fprintf(&b, "The player is leaving %s. Summarize everything that happened there.\n\n", req.Package)
	}
	b.WriteString("TRANSCRIPT\n")
	for _, t := range req.Turns {
		fmt.Fprintf(&b, "%d %s: %s\n", t.Seq, t.Role, t.Text)
	}
	return b.String()
}
