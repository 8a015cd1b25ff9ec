package grounding

// ProposalPrompt asks the vision model for bounding boxes of every region
// resembling the described element. Sent once per vote; the template verb
// is filled with the element description.
const ProposalPrompt = `You are a screen element locator.

Find every region of this screenshot that looks like the following UI element:

%s

Return JSON only:
{
  "regions": [
    {"x1": 0, "y1": 0, "x2": 0, "y2": 0}
  ]
}

HARD RULES
- Coordinates are on a [0,1000] grid over the full image (NOT pixels).
- x1 < x2 and y1 < y2 for every region.
- Each region should tightly enclose one matching element.
- Return at most 5 regions, best match first.
- If nothing matches, return {"regions": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`
