package extraction

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeCloud struct {
	text  string
	err   error
	calls int
}

func (f *fakeCloud) Text(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeLocal struct {
	text       string
	textErr    error
	tokens     []Token
	tokensErr  error
	textCalls  int
	tokenCalls int
}

func (f *fakeLocal) Text(_ context.Context, _ []byte) (string, error) {
	f.textCalls++
	return f.text, f.textErr
}

func (f *fakeLocal) Tokens(_ context.Context, _ []byte) ([]Token, error) {
	f.tokenCalls++
	return f.tokens, f.tokensErr
}

type fakePDF struct {
	text string
	err  error
}

func (f *fakePDF) PDFText(_ context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type fakeParser struct {
	items []ParsedItem
	err   error
	calls int
}

func (f *fakeParser) ParseItems(_ context.Context, _ string) ([]ParsedItem, error) {
	f.calls++
	return f.items, f.err
}

var _ = Describe("Extractor", func() {
	var (
		cfg    Config
		cloud  *fakeCloud
		local  *fakeLocal
		pdf    *fakePDF
		parser *fakeParser
		data   []byte
		result Result
	)

	BeforeEach(func() {
		cfg = Config{}
		cloud = &fakeCloud{}
		local = &fakeLocal{}
		pdf = &fakePDF{}
		parser = &fakeParser{}
		data = []byte("\x89PNG fake image")
	})

	Describe("ExtractText", func() {
		var text string

		JustBeforeEach(func() {
			result = NewExtractor(cfg, cloud, local, pdf, parser).ExtractText(context.Background(), text)
		})

		When("the text has items", func() {
			BeforeEach(func() {
				text = "Milk 3.50\nEggs\n4.25\nTAX 0.62\nTOTAL 8.37"
			})

			It("parses with the heuristic parser", func() {
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Milk", 3.50), NewItem("Eggs", 4.25)}))
				Expect(result.Diagnostics.ParserUsed).To(Equal(ParserHeuristic))
				Expect(result.Diagnostics.Fallback).To(BeEmpty())
			})

			It("does not touch OCR", func() {
				Expect(cloud.calls).To(BeZero())
				Expect(local.textCalls).To(BeZero())
				Expect(local.tokenCalls).To(BeZero())
			})

			When("the LLM parser is enabled", func() {
				BeforeEach(func() {
					cfg.LLMParser = true
					parser.items = []ParsedItem{NewItem("Whole Milk", 3.50)}
				})

				It("prefers the LLM items", func() {
					Expect(result.Items).To(Equal(parser.items))
					Expect(result.Diagnostics.ParserUsed).To(Equal(ParserLLM))
				})
			})

			When("the LLM parser fails", func() {
				BeforeEach(func() {
					cfg.LLMParser = true
					parser.err = errors.New("boom")
				})

				It("records the error and falls back to the heuristic parser", func() {
					Expect(result.Diagnostics.ParserUsed).To(Equal(ParserHeuristic))
					Expect(result.Diagnostics.Errors).To(HaveKeyWithValue(StageLLM, "boom"))
					Expect(result.Items).To(HaveLen(2))
				})
			})

			When("the LLM returns only out-of-bound items", func() {
				BeforeEach(func() {
					cfg.LLMParser = true
					parser.items = []ParsedItem{NewItem("Yacht", 250000), {Name: "1234", Price: price(1)}}
				})

				It("falls back to the heuristic parser", func() {
					Expect(result.Diagnostics.ParserUsed).To(Equal(ParserHeuristic))
				})
			})

			When("the LLM parser is configured but disabled", func() {
				BeforeEach(func() {
					parser.items = []ParsedItem{NewItem("Whole Milk", 3.50)}
				})

				It("does not call it", func() {
					Expect(parser.calls).To(BeZero())
				})
			})
		})

		When("the text has no items", func() {
			BeforeEach(func() {
				text = "THANK YOU"
			})

			It("returns the placeholder item", func() {
				Expect(result.Items).To(Equal([]ParsedItem{{Name: PlaceholderName}}))
				Expect(result.Diagnostics.Fallback).To(Equal(FallbackPlaceholder))
				Expect(result.Diagnostics.ParserUsed).To(BeEmpty())
			})
		})
	})

	Describe("Extract", func() {
		JustBeforeEach(func() {
			result = NewExtractor(cfg, cloud, local, pdf, parser).Extract(context.Background(), data)
		})

		When("cloud OCR is enabled and returns text", func() {
			BeforeEach(func() {
				cfg.CloudOCR = true
				cloud.text = "Milk 3.50\nBread 2.25"
			})

			It("uses the cloud text", func() {
				Expect(result.Diagnostics.TextSource).To(Equal(SourceCloud))
				Expect(result.Diagnostics.ParserUsed).To(Equal(ParserCloudText))
				Expect(result.Items).To(HaveLen(2))
				Expect(local.textCalls).To(BeZero())
			})

			It("augments with the layout associator", func() {
				Expect(result.Diagnostics.Augmenters).To(ConsistOf(ParserLayout))
				Expect(local.tokenCalls).To(Equal(1))
			})
		})

		When("cloud OCR fails", func() {
			BeforeEach(func() {
				cfg.CloudOCR = true
				cloud.err = errors.New("timeout")
				local.text = "Milk 3.50"
			})

			It("records the error and falls back to local OCR", func() {
				Expect(result.Diagnostics.Errors).To(HaveKeyWithValue(StageCloudOCR, "timeout"))
				Expect(result.Diagnostics.TextSource).To(Equal(SourceLocalOCR))
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Milk", 3.50)}))
			})
		})

		When("cloud OCR is disabled", func() {
			BeforeEach(func() {
				cloud.text = "Milk 3.50"
			})

			It("never calls it", func() {
				Expect(cloud.calls).To(BeZero())
			})
		})

		When("local OCR reads the receipt", func() {
			BeforeEach(func() {
				local.text = "Milk 3.50\nEggs\n4.25\nTAX 0.62\nTOTAL 8.37"
			})

			It("parses the string-mode text", func() {
				Expect(result.Diagnostics.TextSource).To(Equal(SourceLocalOCR))
				Expect(result.Diagnostics.ParserUsed).To(Equal(ParserHeuristic))
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Milk", 3.50), NewItem("Eggs", 4.25)}))
			})

			It("runs positional OCR once", func() {
				Expect(local.tokenCalls).To(Equal(1))
			})
		})

		When("positional text carries more decimal prices", func() {
			BeforeEach(func() {
				local.text = "Milk 350\nBread 225"
				local.tokens = []Token{
					{Text: "Milk", Left: 10, Top: 100},
					{Text: "3.50", Left: 300, Top: 100},
					{Text: "Bread", Left: 10, Top: 140},
					{Text: "2.25", Left: 300, Top: 140},
				}
			})

			It("uses the positional text", func() {
				Expect(result.Diagnostics.TextSource).To(Equal(SourceLocalPositional))
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Milk", 3.50), NewItem("Bread", 2.25)}))
			})
		})

		When("both local texts carry the same number of decimal prices", func() {
			BeforeEach(func() {
				local.text = "Milk 3.50"
				local.tokens = []Token{
					{Text: "Milk", Left: 10, Top: 100},
					{Text: "3.50", Left: 300, Top: 100},
				}
			})

			It("keeps the string-mode text", func() {
				Expect(result.Diagnostics.TextSource).To(Equal(SourceLocalOCR))
			})
		})

		When("only the layout associator finds items", func() {
			BeforeEach(func() {
				cfg.CloudOCR = true
				cloud.text = "ACME MARKET\nTHANK YOU"
				local.tokens = []Token{
					{Text: "Whole", Left: 10, Top: 100},
					{Text: "Milk", Left: 70, Top: 100},
					{Text: "3.49", Left: 300, Top: 100},
				}
			})

			It("reports the layout parser", func() {
				Expect(result.Diagnostics.ParserUsed).To(Equal(ParserLayout))
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Whole Milk", 3.49)}))
			})
		})

		When("positional OCR fails", func() {
			BeforeEach(func() {
				local.text = "Milk 3.50"
				local.tokensErr = errors.New("no engine")
			})

			It("records one error and keeps the string-mode items", func() {
				Expect(result.Diagnostics.Errors).To(HaveLen(1))
				Expect(result.Diagnostics.Errors).To(HaveKey(StageLocalData))
				Expect(result.Items).To(HaveLen(1))
			})
		})

		When("nothing can be read", func() {
			BeforeEach(func() {
				local.textErr = errors.New("no engine")
				local.tokensErr = errors.New("no engine")
			})

			It("returns the placeholder item", func() {
				Expect(result.Items).To(Equal([]ParsedItem{{Name: PlaceholderName}}))
				Expect(result.Diagnostics.Fallback).To(Equal(FallbackPlaceholder))
				Expect(result.Diagnostics.TextSource).To(BeEmpty())
			})

			It("encodes unset diagnostics as null", func() {
				raw, err := json.Marshal(result.Diagnostics)
				Expect(err).NotTo(HaveOccurred())
				Expect(raw).To(MatchJSON(`{
					"parser_used": null,
					"text_source": null,
					"errors": {"local_ocr": "no engine", "local_positional": "no engine"},
					"fallback": "mock"
				}`))
			})
		})

		When("the input is a PDF", func() {
			BeforeEach(func() {
				data = []byte("%PDF-1.7 fake")
				pdf.text = "Milk 3.50"
			})

			It("reads the text layer and skips image OCR", func() {
				Expect(result.Diagnostics.TextSource).To(Equal(SourcePDFText))
				Expect(result.Items).To(Equal([]ParsedItem{NewItem("Milk", 3.50)}))
				Expect(local.textCalls).To(BeZero())
				Expect(local.tokenCalls).To(BeZero())
				Expect(result.Diagnostics.Augmenters).To(BeEmpty())
			})
		})

		When("no collaborators are configured", func() {
			JustBeforeEach(func() {
				result = NewExtractor(Config{CloudOCR: true, LLMParser: true}, nil, nil, nil, nil).Extract(context.Background(), data)
			})

			It("still returns the placeholder item", func() {
				Expect(result.Items).To(HaveLen(1))
				Expect(result.Items[0].Name).To(Equal(PlaceholderName))
			})
		})
	})
})

var _ = Describe("StageError", func() {
	It("unwraps to the stage cause", func() {
		err := error(&StageError{Stage: StageLLM, Err: ErrNoCredentials})
		Expect(errors.Is(err, ErrNoCredentials)).To(BeTrue())
		Expect(err.Error()).To(Equal("llm: no credentials configured"))
	})
})

var _ = Describe("IsPDF", func() {
	It("detects the magic prefix", func() {
		Expect(IsPDF([]byte("%PDF-1.4"))).To(BeTrue())
		Expect(IsPDF([]byte("%PD"))).To(BeFalse())
	})
})
