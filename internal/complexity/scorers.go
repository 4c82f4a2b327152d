package complexity

import (
	"fmt"
	"regexp"
	"strings"
)

// Per-factor confidence constants. Hand-tuned: sparser heuristics earn less
// trust in the weighted combination.
const (
	confLexical    = 0.80
	confSyntactic  = 0.85
	confSemantic   = 0.70
	confProcedural = 0.75
	confCognitive  = 0.65
	confTemporal   = 0.60
)

var (
	lexicalTechnicalTerms = []string{
		"architecture", "algorithm", "database", "codebase", "refactor",
		"optimization", "concurrency", "microservices", "infrastructure",
		"framework", "compiler", "kernel", "protocol", "schema",
		"deployment", "api", "asynchronous", "distributed",
	}

	syntacticTransformWords = []string{"refactor", "restructure", "rewrite", "reorganize", "migrate"}
	syntacticStructureWords = []string{"architecture", "codebase", "module", "inheritance", "interface", "component", "hierarchy"}
	syntacticLoopWords      = []string{"for", "while", "foreach", "loop", "iterate"}
	syntacticBranchWords    = []string{"if", "else", "switch", "case", "unless"}
	syntacticCodePatterns   = []*regexp.Regexp{
		regexp.MustCompile(`\bfunc(tion)?\s+\w+\s*\(`),
		regexp.MustCompile(`\bdef\s+\w+\s*\(`),
		regexp.MustCompile(`\bclass\s+\w+`),
		regexp.MustCompile(`\bimport\s+\w+`),
		regexp.MustCompile(`\.(py|go|js|ts|java|rb|rs|cpp|sh|yaml|json)\b`),
	}

	semanticUncertaintyWords = []string{"maybe", "possibly", "might", "unclear", "somehow", "perhaps"}
	semanticUncertainPhrases = []string{"not sure", "don't know", "figure out"}
	semanticAbstractWords    = []string{"design", "pattern", "patterns", "architecture", "strategy", "concept", "paradigm", "abstraction"}
	semanticBreadthWords     = []string{"entire", "comprehensive", "across", "throughout", "end-to-end", "holistic"}
	semanticVagueWords       = []string{"some", "various", "several", "many"}

	proceduralSequenceWords  = []string{"first", "then", "next", "after", "before", "finally", "step"}
	proceduralSequencePhrase = []string{"followed by", "one by one", "in order"}
	proceduralWorkflowWords  = []string{"workflow", "pipeline", "process", "procedure", "steps", "stages", "phases"}
	proceduralTransformWords = []string{"refactor", "migrate", "convert", "integrate", "deploy", "implement"}
	proceduralNumberedList   = regexp.MustCompile(`\b\d+[.)]\s`)

	cognitiveReasoningWords = []string{"analyze", "evaluate", "compare", "reason", "why", "tradeoff", "trade-offs", "decide", "determine"}
	cognitiveAdvancedWords  = []string{"advanced", "complex", "sophisticated", "intricate"}
	cognitiveOptimizeWords  = []string{"optimize", "optimization", "improve", "performance", "efficient", "refactor"}
	cognitiveScopeWords     = []string{"entire", "comprehensive", "all", "across", "system-wide", "everything"}

	temporalUrgencyWords    = []string{"urgent", "asap", "immediately", "quickly", "now"}
	temporalScheduleWords   = []string{"schedule", "cron", "periodic", "daily", "weekly", "recurring", "interval"}
	temporalDurationWords   = []string{"long-running", "timeout", "deadline", "overnight"}
	temporalUrgencyPhrases  = []string{"right away", "as soon as"}
)

var wordPattern = regexp.MustCompile(`[a-z0-9_.\-]+`)

// promptText is the tokenized, lower-cased view every scorer works from.
type promptText struct {
	raw   string
	lower string
	words []string
	set   map[string]bool
}

func tokenize(prompt string) promptText {
	lower := strings.ToLower(prompt)
	words := wordPattern.FindAllString(lower, -1)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".-")] = true
	}
	return promptText{raw: prompt, lower: lower, words: words, set: set}
}

// matchWords returns the keywords present in the prompt's word set.
// Word-boundary matching keeps "now" from firing inside "snow".
func (p promptText) matchWords(keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if p.set[kw] {
			hits = append(hits, kw)
		}
	}
	return hits
}

// matchPhrases substring-matches multi-word phrases.
func (p promptText) matchPhrases(phrases []string) []string {
	var hits []string
	for _, ph := range phrases {
		if strings.Contains(p.lower, ph) {
			hits = append(hits, ph)
		}
	}
	return hits
}

// scoreBuilder accumulates category contributions. Each category contributes
// at most once regardless of how many of its keywords match, which makes the
// clamp idempotent under keyword repetition.
type scoreBuilder struct {
	value    float64
	evidence []string
}

func (b *scoreBuilder) add(increment float64, category string, hits []string) {
	if len(hits) == 0 {
		return
	}
	b.value += increment
	b.evidence = append(b.evidence, fmt.Sprintf("%s: %s", category, strings.Join(hits, ", ")))
}

func (b *scoreBuilder) addIf(cond bool, increment float64, note string) {
	if !cond {
		return
	}
	b.value += increment
	b.evidence = append(b.evidence, note)
}

func (b *scoreBuilder) finish(factor Factor, confidence float64) Score {
	value := b.value
	if value > 1 {
		value = 1
	}
	if value < 0 {
		value = 0
	}
	reasoning := fmt.Sprintf("no %s complexity signals", factor)
	if len(b.evidence) > 0 {
		reasoning = fmt.Sprintf("%d %s signal(s) matched", len(b.evidence), factor)
	}
	return Score{
		Factor:     factor,
		Value:      value,
		Confidence: confidence,
		Reasoning:  reasoning,
		Evidence:   b.evidence,
	}
}

func scoreLexical(p promptText) Score {
	var b scoreBuilder
	n := len(p.words)
	b.addIf(n > 100, 0.3, fmt.Sprintf("long prompt (%d words)", n))
	b.addIf(n > 50 && n <= 100, 0.2, fmt.Sprintf("moderately long prompt (%d words)", n))
	b.addIf(n > 20 && n <= 50, 0.1, fmt.Sprintf("multi-clause prompt (%d words)", n))

	tech := p.matchWords(lexicalTechnicalTerms)
	b.add(0.35, "technical vocabulary", tech)
	b.addIf(len(tech) >= 4, 0.2, fmt.Sprintf("dense technical vocabulary (%d terms)", len(tech)))

	if n > 0 {
		total := 0
		for _, w := range p.words {
			total += len(w)
		}
		avg := float64(total) / float64(n)
		b.addIf(avg > 6, 0.25, fmt.Sprintf("high average word length (%.1f)", avg))
	}
	return b.finish(FactorLexical, confLexical)
}

func scoreSyntactic(p promptText) Score {
	var b scoreBuilder
	b.add(0.4, "structural transformation", p.matchWords(syntacticTransformWords))
	b.add(0.35, "structural references", p.matchWords(syntacticStructureWords))
	b.add(0.25, "loop constructs", p.matchWords(syntacticLoopWords))
	b.add(0.25, "conditional constructs", p.matchWords(syntacticBranchWords))

	var codeHits []string
	for _, re := range syntacticCodePatterns {
		if re.MatchString(p.lower) {
			codeHits = append(codeHits, re.String())
		}
	}
	b.addIf(len(codeHits) > 0, 0.3, fmt.Sprintf("code-like patterns (%d)", len(codeHits)))
	return b.finish(FactorSyntactic, confSyntactic)
}

func scoreSemantic(p promptText) Score {
	var b scoreBuilder
	uncertainty := append(p.matchWords(semanticUncertaintyWords), p.matchPhrases(semanticUncertainPhrases)...)
	b.add(0.3, "uncertainty", uncertainty)
	b.add(0.35, "abstract concepts", p.matchWords(semanticAbstractWords))
	b.add(0.3, "broad scope", p.matchWords(semanticBreadthWords))
	b.add(0.15, "vague quantities", p.matchWords(semanticVagueWords))
	return b.finish(FactorSemantic, confSemantic)
}

func scoreProcedural(p promptText) Score {
	var b scoreBuilder
	seq := append(p.matchWords(proceduralSequenceWords), p.matchPhrases(proceduralSequencePhrase)...)
	b.add(0.3, "sequencing", seq)
	b.add(0.25, "workflow markers", p.matchWords(proceduralWorkflowWords))
	b.add(0.35, "multi-step transformations", p.matchWords(proceduralTransformWords))
	b.addIf(proceduralNumberedList.MatchString(p.lower), 0.2, "numbered step list")
	return b.finish(FactorProcedural, confProcedural)
}

func scoreCognitive(p promptText) Score {
	var b scoreBuilder
	b.add(0.3, "reasoning demand", p.matchWords(cognitiveReasoningWords))
	b.add(0.25, "sophistication", p.matchWords(cognitiveAdvancedWords))
	b.add(0.3, "optimization pressure", p.matchWords(cognitiveOptimizeWords))
	b.add(0.25, "wide scope", p.matchWords(cognitiveScopeWords))
	return b.finish(FactorCognitive, confCognitive)
}

func scoreTemporal(p promptText) Score {
	var b scoreBuilder
	urgency := append(p.matchWords(temporalUrgencyWords), p.matchPhrases(temporalUrgencyPhrases)...)
	b.add(0.4, "urgency", urgency)
	b.add(0.3, "scheduling", p.matchWords(temporalScheduleWords))
	b.add(0.3, "duration constraints", p.matchWords(temporalDurationWords))
	return b.finish(FactorTemporal, confTemporal)
}

// scoreFactor dispatches to the per-factor scorer.
func scoreFactor(f Factor, p promptText) Score {
	switch f {
	case FactorLexical:
		return scoreLexical(p)
	case FactorSyntactic:
		return scoreSyntactic(p)
	case FactorSemantic:
		return scoreSemantic(p)
	case FactorProcedural:
		return scoreProcedural(p)
	case FactorCognitive:
		return scoreCognitive(p)
	case FactorTemporal:
		return scoreTemporal(p)
	default:
		return Score{Factor: f}
	}
}
