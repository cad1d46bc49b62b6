package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/greenbucks/internal/extraction"
	"github.com/zombor/greenbucks/internal/receipt"
)

// stubVision stands in for the cloud OCR service.
type stubVision struct {
	text string
}

func (s *stubVision) Text(ctx context.Context, data []byte) (string, error) {
	return s.text, nil
}

var _ = Describe("Integration", func() {
	var (
		db       *receipt.BoltDB
		store    *receipt.LocalStorage
		server   *receipt.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		cloud := &stubVision{text: strings.Join([]string{
			"CORNER MARKET",
			"Bananas 2.00",
			"Ground Beef 10.00",
			"SUBTOTAL 12.00",
			"TOTAL 12.00",
			"VISA ****1234",
		}, "\n")}
		extractor := extraction.NewExtractor(extraction.Config{CloudOCR: true}, cloud, nil, nil, nil)

		service := receipt.NewService(db, extractor, store)
		server = receipt.NewServer(service, receipt.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghServer.Close()
		db.Close()
	})

	It("uploads, extracts, lists and deletes a receipt", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "IMG_0042.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("not really a jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.WriteField("merchant", "Corner Market")).To(Succeed())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/receipts", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created receipt.Receipt
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(raw, &created)).To(Succeed())

		Expect(created.Diagnostics.TextSource).To(Equal(extraction.SourceCloud))
		Expect(created.Diagnostics.ParserUsed).To(Equal(extraction.ParserCloudText))
		Expect(created.Items).To(HaveLen(2))
		Expect(created.Items[0].Name).To(Equal("Bananas"))
		Expect(created.Items[1].Name).To(Equal("Ground Beef"))
		Expect(created.Total.StringFixed(2)).To(Equal("12.00"))
		Expect(created.EcoScore).To(Equal(1))
		Expect(created.MixedMerchant).To(BeFalse())

		stored, err := db.GetReceipt(created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Items).To(HaveLen(2))
		data, err := store.Get(created.Filename)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("not really a jpeg"))

		listResp, err := http.Get(ghServer.URL() + "/api/receipts")
		Expect(err).NotTo(HaveOccurred())
		defer listResp.Body.Close()
		var listed []receipt.Receipt
		Expect(json.NewDecoder(listResp.Body).Decode(&listed)).To(Succeed())
		Expect(listed).To(HaveLen(1))
		Expect(listed[0].ID).To(Equal(created.ID))

		req, err := http.NewRequest(http.MethodDelete, ghServer.URL()+"/api/receipts/"+created.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		delResp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		delResp.Body.Close()
		Expect(delResp.StatusCode).To(Equal(http.StatusNoContent))

		_, err = db.GetReceipt(created.ID)
		Expect(err).To(MatchError(receipt.ErrNotFound))
		_, err = store.Get(created.Filename)
		Expect(err).To(HaveOccurred())
	})

	It("parses raw text with the heuristic parser", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		payload := `{"text": "Milk\n3.49\nEggs 2.99\nTOTAL 6.48"}`
		resp, err := http.Post(ghServer.URL()+"/api/receipts/parse_text", "application/json", strings.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var analysis receipt.Analysis
		Expect(json.NewDecoder(resp.Body).Decode(&analysis)).To(Succeed())
		Expect(analysis.Diagnostics.ParserUsed).To(Equal(extraction.ParserHeuristic))
		Expect(analysis.Items).To(HaveLen(2))
		Expect(analysis.Items[0].Name).To(Equal("Milk"))
		Expect(*analysis.Items[0].Price).To(Equal(3.49))
		Expect(analysis.Items[1].Name).To(Equal("Eggs"))

		receipts, err := db.ListReceipts()
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(BeEmpty())
	})
})
