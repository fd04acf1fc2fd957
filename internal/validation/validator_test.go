package validation

import (
	"errors"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidate_Generate(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(SchemaGenerate, []byte(`{"project_id":"7b0c7f4e-3f51-4c39-9d0e-2f6a3b7f1a10"}`)); err != nil {
		t.Fatalf("expected valid body, got: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"missing project_id", `{}`},
		{"not a uuid", `{"project_id":"abc"}`},
		{"unknown field (additionalProperties: false)", `{"project_id":"7b0c7f4e-3f51-4c39-9d0e-2f6a3b7f1a10","credits":1}`},
		{"malformed JSON", `{"project_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(SchemaGenerate, []byte(tc.body))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_ProjectCreate(t *testing.T) {
	v := newTestValidator(t)

	valid := []string{
		`{"title":"Lagos Nights","mode":"TEXT","lyrics_final":"we ride","style_id":"afrobeat"}`,
		`{"title":"Harmattan","mode":"CONTEXT","context_input":"a dry season love song","audio_url":"https://cdn.example.com/hum.mp3","auto_video":true}`,
	}
	for _, body := range valid {
		if err := v.Validate(SchemaProjectCreate, []byte(body)); err != nil {
			t.Fatalf("expected valid project, got: %v", err)
		}
	}

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"mode":"TEXT","lyrics_final":"x"}`},
		{"empty title", `{"title":"","mode":"TEXT","lyrics_final":"x"}`},
		{"unknown mode", `{"title":"t","mode":"HUM","lyrics_final":"x"}`},
		{"text without lyrics", `{"title":"t","mode":"TEXT"}`},
		{"context without description", `{"title":"t","mode":"CONTEXT"}`},
		{"seed audio not a uri", `{"title":"t","mode":"TEXT","lyrics_final":"x","audio_url":"not a uri"}`},
		{"unknown field", `{"title":"t","mode":"TEXT","lyrics_final":"x","status":"completed"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Validate(SchemaProjectCreate, []byte(tc.body)); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_PaymentCharge(t *testing.T) {
	v := newTestValidator(t)

	ok := `{"package_id":"starter","phone":"+22997000000","network":"MTN","country":"BJ"}`
	if err := v.Validate(SchemaPaymentCharge, []byte(ok)); err != nil {
		t.Fatalf("expected valid charge, got: %v", err)
	}
	bad := `{"package_id":"starter","phone":"call me","network":"MTN"}`
	if err := v.Validate(SchemaPaymentCharge, []byte(bad)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad phone, got: %v", err)
	}
}

func TestValidate_Webhook(t *testing.T) {
	v := newTestValidator(t)

	ok := `{"event":"charge.completed","data":{"id":285959875,"tx_ref":"x","status":"successful","amount":5000,"currency":"XOF"}}`
	if err := v.Validate(SchemaWebhook, []byte(ok)); err != nil {
		t.Fatalf("expected valid webhook, got: %v", err)
	}
	missing := `{"event":"charge.completed","data":{"tx_ref":"x"}}`
	if err := v.Validate(SchemaWebhook, []byte(missing)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got: %v", err)
	}
}

func TestValidate_Subscribe(t *testing.T) {
	v := newTestValidator(t)

	body := `{"job_id":"7b0c7f4e-3f51-4c39-9d0e-2f6a3b7f1a10","channel":"sms","destination":"123"}`
	if err := v.Validate(SchemaSubscribe, []byte(body)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown channel, got: %v", err)
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("nope", []byte(`{}`))
	if err == nil || errors.Is(err, ErrValidation) {
		t.Fatalf("expected plain error for unknown schema, got: %v", err)
	}
}
