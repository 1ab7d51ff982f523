package curate

// Prompt templates. Placeholders are filled with fmt.Sprintf; every template
// demands bare JSON so parseJSON stays simple.

const curationPrompt = `You are generating structured data for a site summary file. This file helps AI systems understand a website's purpose and structure, similar to how a README helps developers.

## Your Task

Analyze the crawled pages and return a JSON object with:
1. A site title (use the ACTUAL site name from the content, never invent one)
2. A one-sentence tagline (10-25 words)
3. A multi-paragraph overview that scales with content depth
4. Sections with prose descriptions and relevant page links

## Critical: Use Only Actual Content

You MUST base all output on the actual crawled content. Never invent or hallucinate:
- Company names (if no company name is evident, use the domain name or site title from the page)
- Products or services not mentioned in the pages
- Features, capabilities, or benefits not explicitly described

If the crawled content is minimal or not a typical company site, describe what it actually is and keep the output proportionally small. A 3-page site should NOT have a 400-word overview.

## Selection Criteria

INCLUDE pages that describe what the company/product does, key capabilities, documentation, pricing, or company information.
EXCLUDE individual listings, category/filter pages, location variants, account pages, legal boilerplate, and pagination.

## Output Format

Return ONLY a valid JSON object with this exact structure:
{
  "site_title": "Company/Product Name",
  "tagline": "One sentence describing the core value proposition (10-25 words)",
  "overview": "Paragraph overview of the company/product, its audience, and capabilities.",
  "sections": [
    {
      "name": "Platform Features",
      "description": "Prose (50-300 words) explaining this area, with bullet points where useful.",
      "pages": [
        {
          "url": "<URL from crawled pages below>",
          "title": "Page title from crawled content",
          "description": "One sentence describing this page"
        }
      ]
    }
  ]
}

## Section Names

Prefer these standard names: "Platform Features", "Solutions", "Resources", "Integrations", "Pricing", "Company". Custom names are allowed when the content clearly warrants one. Only create sections with 2+ relevant pages.

## Anti-Filler Rules

Avoid generic marketing phrases, invented features, and padding. When in doubt, be concise.

## Pages Crawled

%s

## Important

- Return ONLY valid JSON, no markdown code fences, no explanation
- CRITICAL: Only use URLs from the crawled pages listed above. NEVER invent URLs.`

const relevancePrompt = `Classify which pages are relevant for a site summary file.

## Context
The summary describes a website's purpose, features, and key content for AI systems.
It should include pages that help understand what the company/product does, NOT individual items or listings.

## Pages to Classify
%s

## Classification Rules

INCLUDE pages that:
- Describe the company, product, or service (about, overview, platform)
- Explain features, capabilities, or offerings
- Provide documentation, guides, or educational content
- Show pricing or plans
- Contain team, careers overview, or contact info
- Are hub/overview pages for a category

EXCLUDE pages that:
- Are empty or contain no/minimal content
- Are individual items in a collection (single blog post, single job listing, single product)
- Are category, filter, tag, or search result pages
- Are user account or authentication pages
- Are legal boilerplate (privacy, terms) unless uniquely informative
- Are paginated or date-based archives
- Are author pages or geographic variants of the same content

## Output
Return ONLY a JSON object with relevant URLs:
{"relevant_urls": ["https://example.com/features", "https://example.com/pricing"]}

Return ONLY valid JSON, no explanation or markdown code fences.`

const significancePrompt = `Evaluate if webpage content changes are significant enough to warrant updating descriptions in a site summary file.

## Context
The summary contains AI-friendly descriptions of webpages. Determine which pages have meaningful changes requiring description updates vs minor/cosmetic changes.

## Pages to Evaluate
%s

## Evaluation Criteria

SIGNIFICANT changes (require description update):
- Core purpose or function of the page changed
- Major features added, removed, or substantially modified
- Key product/service offerings changed
- Target audience or use cases changed
- Technical requirements or integrations changed

NOT SIGNIFICANT changes (keep existing description):
- Pricing changes
- Typo fixes, grammar corrections, minor wording tweaks
- Date, version, or copyright year updates
- Formatting, layout, or navigation changes
- Updated statistics that don't change the core message
- Added/removed testimonials or decorative content

## Output
Return ONLY a JSON object with URLs that have SIGNIFICANT changes:
{
  "significant_urls": ["https://example.com/features"],
  "reasons": {"https://example.com/features": "Features were updated"}
}

Return ONLY valid JSON, no explanation or markdown code fences.`

const sectionRegenPrompt = `Regenerate the description for the "%s" section.

## Site Context
Site: %s
Tagline: %s

## Pages in This Section
%s

## Output
Return JSON with:
{
  "action": "keep",
  "description": "50-200 words describing this section with bullet points for key features."
}

If the section no longer has a reason to exist (its pages are gone or off-topic), return:
{"action": "delete", "reason": "why the section should be removed"}

## Rules
- Base content only on the provided pages
- Scale length proportionally to content depth
- Avoid generic marketing phrases
- Do not invent features not evidenced in the page data
- Return ONLY valid JSON, no markdown code fences`

const categorizationPrompt = `Categorize these newly discovered pages.

## Site Context
Site: %s
Tagline: %s
Existing sections: %s

## New Pages
%s

## Output
Return JSON:
{
  "pages": [
    {
      "url": "https://example.com/new-page",
      "title": "Page Title",
      "description": "One sentence describing this page",
      "category": "Existing Section Name OR suggest new section name"
    }
  ],
  "new_sections_needed": []
}

## Rules
- Prefer existing sections when a page clearly fits
- Only suggest a new section if 2+ pages clearly belong together in a new category
- Use standard categories when possible: Platform Features, Solutions, Resources, Integrations, Pricing, Company
- Return ONLY valid JSON, no markdown code fences`
