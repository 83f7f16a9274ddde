package feedback

import "time"

// SignalType classifies a task outcome signal.
type SignalType string

const (
	SignalExplicitSuccess SignalType = "explicit_success"
	SignalExplicitFailure SignalType = "explicit_failure"
	SignalTestPass        SignalType = "test_pass"
	SignalTestFail        SignalType = "test_fail"
	SignalTypeCheckPass   SignalType = "type_check_pass"
	SignalTypeCheckFail   SignalType = "type_check_fail"
	SignalBuildSuccess    SignalType = "build_success"
	SignalBuildFailure    SignalType = "build_failure"
	SignalLintPass        SignalType = "lint_pass"
	SignalLintFail        SignalType = "lint_fail"
)

// Signal is one observation about an in-flight task.
type Signal struct {
	Type       SignalType `json:"type"`
	Detail     string     `json:"detail,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// InferOutcomeFromSignals derives a task outcome from accumulated signals.
// First match wins, in order: an explicit signal, test results, type check
// failure, build result (success requires both build and type check to
// pass), then a lint failure with nothing passing. Anything else is
// inconclusive and conclusive is false.
func InferOutcomeFromSignals(signals []Signal) (success, conclusive bool) {
	var (
		testPass, testFail         bool
		typePass, typeFail         bool
		buildPass, buildFail       bool
		lintFail, anyPassingSignal bool
	)
	for _, s := range signals {
		switch s.Type {
		case SignalExplicitSuccess:
			return true, true
		case SignalExplicitFailure:
			return false, true
		case SignalTestPass:
			testPass = true
		case SignalTestFail:
			testFail = true
		case SignalTypeCheckPass:
			typePass = true
		case SignalTypeCheckFail:
			typeFail = true
		case SignalBuildSuccess:
			buildPass = true
		case SignalBuildFailure:
			buildFail = true
		case SignalLintFail:
			lintFail = true
		}
		switch s.Type {
		case SignalTestPass, SignalTypeCheckPass, SignalBuildSuccess, SignalLintPass:
			anyPassingSignal = true
		}
	}

	switch {
	case testFail:
		return false, true
	case testPass:
		return true, true
	case typeFail:
		return false, true
	case buildFail:
		return false, true
	case buildPass && typePass:
		return true, true
	case lintFail && !anyPassingSignal:
		return false, true
	}
	return false, false
}
