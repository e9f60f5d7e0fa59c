package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// perform runs a handler through a fiber app and decodes the JSON body
func perform(t *testing.T, handler fiber.Handler) (int, map[string]interface{}) {
	t.Helper()

	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return resp.StatusCode, body
}

func TestSuccessEnvelope(t *testing.T) {
	status, body := perform(t, func(c *fiber.Ctx) error {
		return Success(c, fiber.Map{"id": 7})
	})
	if status != fiber.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if _, present := body["error"]; present {
		t.Error("success envelope carries an error field")
	}
}

func TestErrorEnvelopeAndDefaults(t *testing.T) {
	status, body := perform(t, func(c *fiber.Ctx) error {
		return Unauthorized(c, "")
	})
	if status != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	errDetail, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error field = %v", body["error"])
	}
	if errDetail["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", errDetail["code"])
	}
	if errDetail["message"] != "Authentication required" {
		t.Errorf("default message = %v", errDetail["message"])
	}
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	status, body := perform(t, func(c *fiber.Ctx) error {
		return ValidationError(c, errors.New("email is required"))
	})
	if status != fiber.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", status)
	}
	errDetail := body["error"].(map[string]interface{})
	if errDetail["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", errDetail["code"])
	}
	if errDetail["details"] != "email is required" {
		t.Errorf("details = %v", errDetail["details"])
	}
}

func TestPaginatedEnvelope(t *testing.T) {
	status, body := perform(t, func(c *fiber.Ctx) error {
		return Paginated(c, []string{}, CalculatePagination(1, 20, 0))
	})
	if status != fiber.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	data, ok := body["data"].([]interface{})
	if !ok || len(data) != 0 {
		t.Errorf("data = %v, want empty list", body["data"])
	}
	meta := body["pagination"].(map[string]interface{})
	if meta["total"] != float64(0) || meta["total_pages"] != float64(0) {
		t.Errorf("pagination = %v", meta)
	}
}

func TestCalculatePagination(t *testing.T) {
	cases := []struct {
		name        string
		page, limit int
		total       int64
		wantPage    int
		wantPer     int
		wantPages   int
	}{
		{"exact pages", 2, 10, 30, 2, 10, 3},
		{"partial last page", 1, 10, 31, 1, 10, 4},
		{"empty", 1, 20, 0, 1, 20, 0},
		{"clamps page and limit", 0, 0, 5, 1, 10, 1},
		{"caps limit at 100", 1, 500, 100, 1, 100, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculatePagination(tc.page, tc.limit, tc.total)
			if got.CurrentPage != tc.wantPage || got.PerPage != tc.wantPer || got.TotalPages != tc.wantPages {
				t.Errorf("CalculatePagination = %+v", got)
			}
			if got.Total != tc.total {
				t.Errorf("Total = %d, want %d", got.Total, tc.total)
			}
		})
	}
}
