package strategy

import (
	"math/rand"
	"testing"

	"github.com/ashureev/parley/internal/domain"
	"github.com/ashureev/parley/internal/quiz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intent(name string, conf float64) domain.IntentResult {
	return domain.IntentResult{Name: name, Confidence: conf}
}

func newSelector() *Selector {
	return NewSelector(quiz.NewEngine(), TerminationRule)
}

func TestIntentTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		intent domain.IntentResult
		want   domain.TemplateKind
		flag   domain.Flag
	}{
		{intent(domain.IntentGreeting, 0.9), domain.KindGreeting, ""},
		{intent(domain.IntentAppreciation, 0.9), domain.KindGreeting, ""},
		{intent(domain.IntentOutOfScope, 0.9), domain.KindOutOfScope, ""},
		{intent(domain.IntentChangeTopic, 0.9), domain.KindOutOfScope, ""},
		{intent(domain.IntentMakesFun, 0.9), domain.KindInsult, ""},
		{intent(domain.IntentCuriosity, 0.9), domain.KindCuriosity, domain.FlagCuriosityShown},
		{intent(domain.IntentAsksClarity, 0.9), domain.KindCuriosity, domain.FlagAskedForClarity},
		{intent(domain.IntentAgrees, 0.9), domain.KindCuriosity, ""},
		{intent(domain.IntentDisagree, 0.9), domain.KindDisagreement, domain.FlagDisagreed},
		{intent(domain.IntentEvidenceAgainst, 0.9), domain.KindEvidenceAgainst, domain.FlagGaveEvidenceAgainst},
		{intent(domain.IntentEvidenceFor, 0.9), domain.KindEvidenceFor, domain.FlagGaveEvidenceFor},
		{intent(domain.IntentTermination, 0.5), domain.KindArgumentative, ""},
		{intent("something_else", 0.99), domain.KindArgumentative, ""},
	}

	for _, tc := range cases {
		t.Run(tc.intent.Name, func(t *testing.T) {
			t.Parallel()
			state := domain.NewSessionState("s1")
			d := newSelector().Resolve(tc.intent, state, "some text")
			assert.Equal(t, tc.want, d.Kind)
			assert.False(t, d.IsTerminal)
			if tc.flag != "" {
				assert.True(t, state.Has(tc.flag))
			}
		})
	}
}

func TestGreetingScenario(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	d := newSelector().Resolve(intent(domain.IntentGreeting, 0.9), state, "Hi")

	assert.Equal(t, domain.KindGreeting, d.Kind)
	assert.False(t, d.IsTerminal)
	assert.False(t, d.Success())
}

func TestQuizRequestAsksFirstQuestion(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	d := newSelector().Resolve(intent(domain.IntentAskQuiz, 0.9), state, "quiz me")

	require.True(t, d.IsQuizQuestion)
	assert.Equal(t, domain.KindQuizQuestion, d.Kind)
	require.NotNil(t, d.Question)
	assert.Equal(t, quiz.Bank[0].Prompt, d.Question.Prompt)
	assert.Equal(t, quiz.Bank[0].CorrectLabel, state.Quiz.PendingAnswer)
	assert.Equal(t, 1, state.Quiz.AskedCount)
	assert.Equal(t, domain.PhaseQuizPending, state.Phase())
}

func TestPendingAnswerIsGraded(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	state.Quiz.PendingAnswer = "c) Cherry Picking"
	state.Quiz.AskedCount = 1

	d := newSelector().Resolve(intent(domain.IntentGreeting, 0.9), state, "c")

	assert.Equal(t, domain.KindQuizFeedback, d.Kind)
	require.NotNil(t, d.QuizFeedback)
	assert.True(t, *d.QuizFeedback)
	assert.Equal(t, "c) Cherry Picking", d.CorrectAnswer)
	assert.Empty(t, state.Quiz.PendingAnswer)
	assert.Equal(t, domain.PhaseActive, state.Phase())
}

func TestWrongAnswerCarriesCorrectLabel(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	state.Quiz.PendingAnswer = "c) Cherry Picking"

	d := newSelector().Resolve(intent(domain.IntentGreeting, 0.9), state, "a")

	require.NotNil(t, d.QuizFeedback)
	assert.False(t, *d.QuizFeedback)
	assert.Equal(t, "c) Cherry Picking", d.CorrectAnswer)
}

func TestLabelWithoutPendingQuestionIsNormalTurn(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	d := newSelector().Resolve(intent(domain.IntentGreeting, 0.9), state, "a")
	assert.Equal(t, domain.KindGreeting, d.Kind)
	assert.Nil(t, d.QuizFeedback)
}

func TestHintStreakTriggersQuiz(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	state.Quiz.HintStreak = 2

	d := newSelector().Resolve(intent(domain.IntentDisagree, 0.9), state, "no way")

	assert.True(t, d.IsQuizQuestion)
	assert.Equal(t, 0, state.Quiz.HintStreak)
	assert.False(t, state.Has(domain.FlagDisagreed), "quiz branch must not touch milestones")
}

func TestExhaustedQuizIsTerminal(t *testing.T) {
	t.Parallel()

	state := domain.NewSessionState("s1")
	state.Quiz.AskedCount = domain.QuizBankSize

	for _, name := range []string{domain.IntentGreeting, domain.IntentAskQuiz, domain.IntentDisagree} {
		d := newSelector().Resolve(intent(name, 0.9), state, "hello")
		assert.True(t, d.IsTerminal, "intent %s", name)
		assert.Equal(t, domain.KindClosure, d.Kind)
		assert.Equal(t, domain.QuizBankSize, state.Quiz.AskedCount)
	}
}

func TestLastQuestionStillGradedBeforeClosure(t *testing.T) {
	t.Parallel()

	sel := newSelector()
	state := domain.NewSessionState("s1")
	state.Quiz.AskedCount = domain.QuizBankSize - 1

	d := sel.Resolve(intent(domain.IntentAskQuiz, 0.9), state, "quiz")
	require.True(t, d.IsQuizQuestion)
	require.Equal(t, domain.QuizBankSize, state.Quiz.AskedCount)

	d = sel.Resolve(intent(domain.IntentGreeting, 0.9), state, "c")
	require.NotNil(t, d.QuizFeedback)
	assert.True(t, *d.QuizFeedback)

	d = sel.Resolve(intent(domain.IntentGreeting, 0.9), state, "thanks")
	assert.True(t, d.IsTerminal)
}

func TestTerminationIsAbsorbing(t *testing.T) {
	t.Parallel()

	sel := newSelector()
	state := domain.NewSessionState("s1")

	d := sel.Resolve(intent(domain.IntentTermination, 0.95), state, "you convinced me")
	require.True(t, d.IsTerminal)
	assert.Equal(t, domain.KindClosure, d.Kind)
	assert.Equal(t, domain.PhaseTerminated, state.Phase())

	for _, name := range []string{domain.IntentAskQuiz, domain.IntentGreeting, domain.IntentDisagree} {
		d = sel.Resolve(intent(name, 0.9), state, "c")
		assert.True(t, d.IsTerminal, "intent %s", name)
	}
}

func TestMilestonesRuleNeedsEveryFlag(t *testing.T) {
	t.Parallel()

	sel := NewSelector(quiz.NewEngine(), MilestonesRule)
	state := domain.NewSessionState("s1")

	d := sel.Resolve(intent(domain.IntentTermination, 0.95), state, "bye")
	assert.Equal(t, domain.KindTermination, d.Kind)
	assert.False(t, d.IsTerminal)

	for _, name := range []string{
		domain.IntentCuriosity, domain.IntentAsksClarity, domain.IntentDisagree,
		domain.IntentEvidenceAgainst, domain.IntentEvidenceFor,
	} {
		d = sel.Resolve(intent(name, 0.9), state, "x")
		assert.False(t, d.IsTerminal)
	}

	d = sel.Resolve(intent(domain.IntentStrategyIdentified, 0.9), state, "that is cherry picking")
	assert.True(t, d.IsTerminal)
}

func TestStrategyIdentifiedRequiresPrerequisite(t *testing.T) {
	t.Parallel()

	sel := newSelector()
	state := domain.NewSessionState("s1")

	sel.Resolve(intent(domain.IntentStrategyIdentified, 0.9), state, "cherry picking!")
	assert.False(t, state.Has(domain.FlagStrategyIdentified))

	sel.Resolve(intent(domain.IntentDisagree, 0.9), state, "no")
	sel.Resolve(intent(domain.IntentStrategyIdentified, 0.9), state, "cherry picking!")
	assert.True(t, state.Has(domain.FlagStrategyIdentified))
}

func TestStrategyIdentifiedInvariantUnderRandomOrderings(t *testing.T) {
	t.Parallel()

	names := []string{
		domain.IntentGreeting, domain.IntentStrategyIdentified, domain.IntentInsult,
		domain.IntentOutOfScope, domain.IntentAgrees, domain.IntentAskQuiz,
		domain.IntentCuriosity, domain.IntentDisagree, domain.IntentEvidenceFor,
		domain.IntentTermination, "unknown",
	}
	answers := []string{"a", "b", "c", "hello", "why?"}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		sel := NewSelector(quiz.NewEngine(), MilestonesRule)
		state := domain.NewSessionState("s1")
		lastAsked := 0
		for step := 0; step < 30; step++ {
			in := intent(names[rng.Intn(len(names))], rng.Float64())
			sel.Resolve(in, state, answers[rng.Intn(len(answers))])

			if !state.AnyPrerequisite() {
				require.False(t, state.Has(domain.FlagStrategyIdentified), "run %d step %d", run, step)
			}
			require.GreaterOrEqual(t, state.Quiz.AskedCount, lastAsked)
			require.LessOrEqual(t, state.Quiz.AskedCount, domain.QuizBankSize)
			lastAsked = state.Quiz.AskedCount
		}
	}
}

func TestParseSuccessRule(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", RuleTermination, RuleMilestones} {
		rule, err := ParseSuccessRule(name)
		require.NoError(t, err)
		require.NotNil(t, rule)
	}
	_, err := ParseSuccessRule("both")
	assert.Error(t, err)
}
