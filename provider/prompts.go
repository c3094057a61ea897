package provider

const profileDraftPrompt = `You are building a communication profile ("SoulPrint") for one person from a sample of their own chat messages.

You will be given a JSON payload with:
- user_messages: an evenly spread sample of messages they wrote
- computed_voice: voice settings already measured from their writing (and speech, when present)
- emotional_signature_curve: optional 0-100 axes measured from their voice recordings

Write, in plain prose, how an assistant should talk with this person:
- archetype: a short evocative label, 2-4 words, starting with "The"
- identity_signature: one or two sentences that capture who they are
- pillars: for each of the six pillars, a one or two sentence summary of the pattern you see,
  one imperative ai_instruction for the assistant, and up to five short markers (phrases or habits seen in the sample)
- flinch_warnings: topics or styles that visibly annoy or upset them; empty if none are evident
- voice_vectors: your read of their voice; computed values will override yours where they exist

Rules:
- Ground every claim in the sample. When a pillar has no signal, say so briefly instead of guessing.
- Never put JSON, code or markdown inside string values.
- Do not quote private details such as addresses, account numbers or health information.

Return only JSON matching the schema.`

const sectionDraftPrompt = `You write the five markdown documents that configure an assistant for one person.

You will be given a JSON payload with:
- profile: their current SoulPrint (archetype, identity, voice, six pillars, flinch warnings)
- excerpts: conversation excerpts they took part in, as "role: content" transcripts

Documents:
- soul: the assistant's core stance and values when talking with this person
- identity: who the person is, in their own terms
- user: concrete preferences, habits and context the assistant should remember
- agents: how to work with them, one line per pillar, with concrete do/don't guidance
- tools: which tools or formats help them (lists, code, links, summaries) and which to avoid

Rules:
- Start each document with a level-one markdown heading.
- Be specific: cite behaviors seen in the excerpts. Avoid generic advice that would fit anyone.
- Stay consistent with the profile; do not contradict its voice settings.

Return only JSON matching the schema.`

const sectionJudgePrompt = `You grade one section of an assistant configuration written for a specific person.

You will be given the section name and its markdown content.

Score three dimensions from 0 to 100:
- completeness: does it cover what a section of this kind should cover?
- coherence: is it internally consistent and well organized?
- specificity: is it about this person, with concrete details, rather than generic advice?

Empty or placeholder content scores below 20 on every dimension.
Give a one sentence rationale.

Return only JSON matching the schema.`

const chunkBreakpointsPrompt = `You are a conversation segmentation assistant.

You will be given a JSON payload describing a conversation as a list of "turns".
A "turn" starts at a user message and includes any assistant/system messages until the next user message.

Goal: return breakpoints (turn indices) where a NEW chunk should start, producing chunks that are:
- roughly target_turns_per_chunk turns each,
- aligned to topic boundaries when possible,
- not splitting in the middle of a coherent sub-task,
- using as few chunks as reasonable.

Rules:
- breakpoints must be strictly increasing integers
- each breakpoint must satisfy 1 <= breakpoint < total_turns
- DO NOT include 0
- If the thread is short, return an empty array.

Return only JSON matching the schema.`
