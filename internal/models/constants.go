package models

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// The seven fixed evaluation criteria. The composite score is the rounded
// mean over exactly this set, and pattern signatures are built by walking
// Criteria in order.
const (
	CriterionClarity                = "clarity"
	CriterionDomainRelevance        = "domain_relevance"
	CriterionDifficulty             = "difficulty"
	CriterionDistractorQuality      = "distractor_quality"
	CriterionEducationalValue       = "educational_value"
	CriterionTechnicalAccuracy      = "technical_accuracy"
	CriterionRealWorldApplicability = "real_world_applicability"
)

// Criteria lists the evaluation criteria in canonical order.
var Criteria = []string{
	CriterionClarity,
	CriterionDomainRelevance,
	CriterionDifficulty,
	CriterionDistractorQuality,
	CriterionEducationalValue,
	CriterionTechnicalAccuracy,
	CriterionRealWorldApplicability,
}

const (
	GenerationSystemPrompt = `You are an expert exam author for professional certification programs. Always respond with valid JSON only.`

	EvaluationSystemPrompt = `You are an expert certification exam reviewer. Provide detailed, objective analysis of exam questions. Always respond with valid JSON only.`

	// GenerationPromptTemplate takes: query, tagged context passages,
	// pattern guidance block (may be empty).
	GenerationPromptTemplate = `Based on the following source passages, create a challenging multiple-choice question suitable for a professional certification exam.

Task: %s

Passages (each tagged with its source, page and chunk number):
%s
%s
Requirements:
1. Create a question that tests understanding of the source material
2. Provide exactly 4 answer options
3. Make sure only one answer is clearly correct
4. Include a detailed explanation for EACH option explaining why it is correct or incorrect
5. List the chunk numbers your question draws on

Format your response as JSON with this exact structure:
{
    "question": "Your question here?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": "Option A",
    "explanation": "Brief explanation of why the correct answer is right",
    "detailed_explanations": {
        "Option A": "Why this option is correct...",
        "Option B": "Why this option is incorrect...",
        "Option C": "Why this option is incorrect...",
        "Option D": "Why this option is incorrect..."
    },
    "cited_chunks": [0, 2]
}

IMPORTANT: Return ONLY the JSON object, no other text.`

	// GenerationRepairInstruction is appended on the single retry after a
	// malformed response. Takes the parse error text.
	GenerationRepairInstruction = `

Your previous response could not be parsed: %s
Return ONLY a single valid JSON object matching the requested structure, with exactly 4 distinct options and a correct_answer that is one of them.`

	// ImprovementInstructionTemplate injects admin feedback into a
	// regeneration prompt. Takes the free-text feedback.
	ImprovementInstructionTemplate = `
An expert reviewer rated an earlier version of this question and asked for changes. Apply this feedback when writing the new question:
%s
`

	// PatternGuidanceHeader precedes the compact pattern summaries in the
	// generation prompt. Raw text of past questions is never included,
	// only the distilled guidance.
	PatternGuidanceHeader = `
Guidance distilled from previously well-rated questions (follow where applicable):
`

	// EvaluationPromptTemplate takes: the rendered question block and an
	// optional admin-context block.
	EvaluationPromptTemplate = `Evaluate the following multiple-choice exam question for quality and certification readiness.

%s
%s
Score each criterion from 0 to 100 and give a short rationale:
1. clarity: Is the question clear and unambiguous?
2. domain_relevance: Does it test concepts relevant to the source domain?
3. difficulty: Is it appropriate for professional certification?
4. distractor_quality: Are distractors realistic and the correct answer clearly best?
5. educational_value: Does it help learners understand key concepts?
6. technical_accuracy: Are all statements technically correct?
7. real_world_applicability: Can the knowledge be applied in practice?

Provide your evaluation in the following JSON format:
{
    "criteria_scores": {
        "clarity": 90,
        "domain_relevance": 85,
        "difficulty": 80,
        "distractor_quality": 85,
        "educational_value": 90,
        "technical_accuracy": 95,
        "real_world_applicability": 75
    },
    "rationales": {
        "clarity": "short rationale",
        "domain_relevance": "short rationale",
        "difficulty": "short rationale",
        "distractor_quality": "short rationale",
        "educational_value": "short rationale",
        "technical_accuracy": "short rationale",
        "real_world_applicability": "short rationale"
    }
}

Return ONLY the JSON object, no other text.`

	// EvaluationRepairInstruction mirrors the generation repair path.
	EvaluationRepairInstruction = `

Your previous response could not be parsed: %s
Return ONLY a single valid JSON object with integer criteria_scores between 0 and 100 for all seven criteria.`
)
