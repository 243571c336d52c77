package llmstage_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLLMStage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLM Stage Runner Suite")
}
