package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthai/db"
	"healthai/inference"
	"healthai/ml"
	"healthai/monitoring"
)

func trainModelSet(t *testing.T) *inference.ModelSet {
	t.Helper()
	rnd := rand.New(rand.NewSource(3))
	n := 150
	features := make([][]float64, n)
	readmitted := make([]string, n)
	grade := make([]string, n)
	for i := range features {
		age := 20 + rnd.Float64()*70
		creatinine := 0.5 + rnd.Float64()*2.5
		urea := 10 + rnd.Float64()*70
		features[i] = []float64{age, 125 + rnd.Float64()*25, creatinine, urea}
		readmitted[i] = "0"
		if creatinine > 1.8 || age > 78 {
			readmitted[i] = "1"
		}
		grade[i] = "Low"
		if urea/20+creatinine > 3.5 {
			grade[i] = "High"
		}
	}

	opts := ml.DefaultTrainOptions()
	opts.Forest.NEstimators = 8
	opts.BackgroundSize = 20
	opts.Explain.Permutations = 8
	readmission, err := ml.TrainPipeline(context.Background(), inference.ReadmissionModel, features, readmitted, opts)
	require.NoError(t, err)
	severity, err := ml.TrainPipeline(context.Background(), inference.SeverityModel, features, grade, opts)
	require.NoError(t, err)
	return inference.NewModelSet(readmission, severity, zap.NewNop())
}

type testEnv struct {
	router http.Handler
	store  *db.Store
	hub    *monitoring.Hub
}

func newTestEnv(t *testing.T, withStore bool, config ServerConfig) *testEnv {
	t.Helper()
	env := &testEnv{hub: monitoring.NewHub(zap.NewNop())}
	go env.hub.Run()
	t.Cleanup(env.hub.Stop)

	opts := inference.DefaultOptions()
	opts.Feed = env.hub
	opts.Metrics = monitoring.NewMetrics()
	var querier PredictionQuerier
	if withStore {
		store, err := db.Open(filepath.Join(t.TempDir(), "healthai.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		env.store = store
		opts.Store = store
		querier = store
	}

	service, err := inference.NewService(trainModelSet(t), opts, zap.NewNop())
	require.NoError(t, err)
	env.router = NewRouter(config, NewHandlers(service, querier, zap.NewNop()), env.hub, zap.NewNop())
	return env
}

func (env *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())

	rr := env.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Health AI API is running!"}`, rr.Body.String())

	rr = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = env.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlePredict(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())

	rr := env.do(http.MethodPost, "/predict", `{"Age":65,"Sodium":135,"Creatinine":1.4,"Urea":40}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body struct {
		RiskScore          float64  `json:"risk_score"`
		HighRiskConditions []string `json:"high_risk_conditions"`
		Explanation        struct {
			PatientID *string `json:"patient_id"`
		} `json:"explanation"`
		Readmission struct {
			Prediction    json.Number `json:"Prediction"`
			Probabilities []float64   `json:"Probabilities"`
			TopFeatures   []string    `json:"Top_Features"`
		} `json:"Readmission"`
		Severity struct {
			Prediction string `json:"Prediction"`
		} `json:"Severity"`
	}
	decoder := json.NewDecoder(rr.Body)
	decoder.UseNumber()
	require.NoError(t, decoder.Decode(&body))

	assert.Contains(t, []string{"0", "1"}, body.Readmission.Prediction.String())
	require.Len(t, body.Readmission.Probabilities, 2)
	assert.InDelta(t, 1, body.Readmission.Probabilities[0]+body.Readmission.Probabilities[1], 1e-9)
	assert.Len(t, body.Readmission.TopFeatures, 2)
	assert.Contains(t, []string{"Low", "High"}, body.Severity.Prediction)
	assert.GreaterOrEqual(t, body.RiskScore, 0.0)
	assert.LessOrEqual(t, body.RiskScore, 1.0)
	assert.NotNil(t, body.HighRiskConditions)
	assert.Nil(t, body.Explanation.PatientID)
}

func TestHandlePredictPatientForm(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())

	rr := env.do(http.MethodPost, "/predict", `{"patient_id":"p1","metrics":[{"Age":70}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	explanation := body["explanation"].(map[string]any)
	assert.Equal(t, "p1", explanation["patient_id"])
	assert.Equal(t, map[string]any{"Age": 70.0, "Sodium": 0.0, "Creatinine": 0.0, "Urea": 0.0}, explanation["features"])
}

func TestHandlePredictValidationError(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())

	for _, payload := range []string{`{}`, `not json`, `{"patient_id":"p1","metrics":"x"}`} {
		rr := env.do(http.MethodPost, "/predict", payload)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, payload)

		var body struct {
			Detail []string `json:"detail"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Detail)
		assert.NotContains(t, rr.Body.String(), "risk_score")
	}

	rr := env.do(http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandlePredictBodyTooLarge(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxBodyBytes = 32
	env := newTestEnv(t, false, config)

	rr := env.do(http.MethodPost, "/predict", `{"Age":65,"Sodium":135,"Creatinine":1.4,"Urea":40}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandleModelInfo(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())

	rr := env.do(http.MethodGet, "/model/info", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Generation uint64 `json:"generation"`
		Models     map[string]struct {
			Kind      string   `json:"kind"`
			Classes   []string `json:"classes"`
			Explainer string   `json:"explainer"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Generation)
	assert.Equal(t, []string{"0", "1"}, body.Models["readmission"].Classes)
	assert.Equal(t, []string{"High", "Low"}, body.Models["severity"].Classes)
	assert.Equal(t, ml.KindRandomForest, body.Models["severity"].Kind)
	assert.Equal(t, ml.MethodTree, body.Models["readmission"].Explainer)
}

func TestHandleMetrics(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/predict", `{"Age":65,"Sodium":135,"Creatinine":1.4,"Urea":40}`).Code)

	rr := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	body := rr.Body.String()
	assert.Contains(t, body, "# TYPE healthai_predictions_total counter")
	assert.Contains(t, body, "healthai_prediction_duration_seconds_count 1")
	assert.Contains(t, body, "go_goroutines ")
}

func TestHandlePredictions(t *testing.T) {
	disabled := newTestEnv(t, false, DefaultServerConfig())
	rr := disabled.do(http.MethodGet, "/predictions", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	env := newTestEnv(t, true, DefaultServerConfig())
	for _, payload := range []string{
		`{"patient_id":"p1","metrics":[{"Age":70,"Creatinine":2.1}]}`,
		`{"patient_id":"p2","metrics":[{"Age":40}]}`,
		`{"Age":65,"Sodium":135,"Creatinine":1.4,"Urea":40}`,
	} {
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/predict", payload).Code)
	}

	rr = env.do(http.MethodGet, "/predictions?patient_id=p1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Predictions []db.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Predictions, 1)
	assert.Equal(t, "p1", body.Predictions[0].PatientID)
	assert.Equal(t, [4]float64{70, 0, 2.1, 0}, body.Predictions[0].Features)

	rr = env.do(http.MethodGet, "/predictions?limit=2", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Predictions, 2)
}

func TestPredictionFeed(t *testing.T) {
	env := newTestEnv(t, false, DefaultServerConfig())
	server := httptest.NewServer(env.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/predictions", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(server.URL+"/predict", "application/json", bytes.NewBufferString(`{"patient_id":"p5","metrics":[{"Age":55}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg monitoring.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.PredictionEvent, msg.Type)

	var rec db.Prediction
	require.NoError(t, json.Unmarshal(msg.Data, &rec))
	assert.Equal(t, "p5", rec.PatientID)
}
