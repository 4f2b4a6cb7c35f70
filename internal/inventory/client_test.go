package inventory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"

	"github.com/joyent/vm-agent/internal/config"
	"github.com/joyent/vm-agent/internal/inventory"
	"github.com/joyent/vm-agent/internal/models"
	agenterrors "github.com/joyent/vm-agent/pkg/errors"
)

func TestInventory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Inventory Client Suite")
}

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		client *inventory.Client
		nodeID string
	)

	newClient := func(url string) *inventory.Client {
		c, err := inventory.NewClient(config.Inventory{
			BaseURL:        url,
			RequestTimeout: time.Second,
		}, "1.0.0", nodeID)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		nodeID = uuid.NewString()
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	Describe("ListForNode", func() {
		It("decodes the returned VM set and sets the User-Agent header", func() {
			vmID := uuid.New()
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("server_uuid")).To(Equal(nodeID))
				Expect(r.URL.Query().Get("state")).To(Equal("active"))
				Expect(r.Header.Get("User-Agent")).To(ContainSubstring("vm-agent/1.0.0"))
				Expect(r.Header.Get("User-Agent")).To(ContainSubstring(nodeID))
				_ = json.NewEncoder(w).Encode([]models.VmRecord{{UUID: vmID}})
			}))
			client = newClient(server.URL)

			vms, err := client.ListForNode(context.Background(), nodeID)
			Expect(err).NotTo(HaveOccurred())
			Expect(vms).To(HaveLen(1))
			Expect(vms[0].UUID).To(Equal(vmID))
		})

		It("classifies a 5xx response as a ServerError", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			client = newClient(server.URL)

			_, err := client.ListForNode(context.Background(), nodeID)
			Expect(agenterrors.IsServer(err)).To(BeTrue())
		})

		It("classifies a connection failure as a NetworkError", func() {
			client = newClient("http://127.0.0.1:1")

			_, err := client.ListForNode(context.Background(), nodeID)
			Expect(agenterrors.IsNetwork(err)).To(BeTrue())
		})
	})

	Describe("UpdateOne", func() {
		It("classifies a 4xx response as a ValidationError", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPut))
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("bad record"))
			}))
			client = newClient(server.URL)

			err := client.UpdateOne(context.Background(), models.VmRecord{UUID: uuid.New()})
			Expect(agenterrors.IsValidation(err)).To(BeTrue())
		})

		It("returns nil on a 2xx response", func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			client = newClient(server.URL)

			err := client.UpdateOne(context.Background(), models.VmRecord{UUID: uuid.New()})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("BulkUpdateForNode", func() {
		It("sends the vms map keyed by uuid", func() {
			vmID := uuid.New()
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Vms map[string]models.VmRecord `json:"vms"`
				}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body.Vms).To(HaveKey(vmID.String()))
				w.WriteHeader(http.StatusOK)
			}))
			client = newClient(server.URL)

			err := client.BulkUpdateForNode(context.Background(), nodeID, map[uuid.UUID]models.VmRecord{
				vmID: {UUID: vmID},
			})
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
