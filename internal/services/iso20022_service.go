package services

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// settlementBIC identifies this institution on both legs of a transfer.
// All transfers are intra-ledger, so debtor and creditor agent match.
const settlementBIC = "PAYMTRIS"

// SettlementEntry is a committed transfer flattened for export: both
// parties resolved to name and IBAN, amount still in kurus.
type SettlementEntry struct {
	TransferID    string
	EndToEndID    string
	SenderName    string
	SenderIBAN    string
	RecipientName string
	RecipientIBAN string
	Amount        int64
	OccurredAt    time.Time
}

// ISO20022Service exports committed transfers as pacs.008 credit transfer
// messages and reports their settlement status as pacs.002.
type ISO20022Service struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewISO20022Service(db *sql.DB) *ISO20022Service {
	return &ISO20022Service{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ConvertToISO20022 exports a committed transfer as pacs.008 XML
// @Summary Convert transfer to ISO 20022
// @Description Export a committed transfer as a pacs.008 credit transfer message
// @Tags iso20022
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{transfer_id=string} true "Transfer to export"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /iso20022/convert [post]
func (iso *ISO20022Service) ConvertToISO20022(w http.ResponseWriter, r *http.Request) {
	entry, ok := iso.entryFromRequest(w, r)
	if !ok {
		return
	}

	pacs008, err := iso.CreatePacs008(entry)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := iso.ConvertToXML(pacs008)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

// ProcessSettlement reports a committed transfer as settled
// @Summary Process settlement
// @Description Build a pacs.002 status report for a committed transfer and forward it to settlement
// @Tags iso20022
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{transfer_id=string} true "Transfer to settle"
// @Success 200 {object} object{status=string,messageType=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /iso20022/settlement [post]
func (iso *ISO20022Service) ProcessSettlement(w http.ResponseWriter, r *http.Request) {
	entry, ok := iso.entryFromRequest(w, r)
	if !ok {
		return
	}

	// Committed transfers are final, so they report as settlement completed.
	pacs002, err := iso.CreatePacs002(entry, "ACSC")
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	if err := iso.SendToSettlement(pacs002); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "settled",
		"messageType": "pacs.002.001.08",
	})
}

func (iso *ISO20022Service) entryFromRequest(w http.ResponseWriter, r *http.Request) (*SettlementEntry, bool) {
	var req struct {
		TransferID string `json:"transfer_id" validate:"required,uuid4"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := iso.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}

	entry, err := iso.LoadEntry(req.TransferID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		return nil, false
	}
	if err != nil {
		log.Printf("[ISO20022] transfer lookup failed: %v", err)
		SendErrorResponse(w, "Failed to load transfer", http.StatusInternalServerError, nil)
		return nil, false
	}
	return entry, true
}

// LoadEntry resolves a committed transfer and both parties into a
// SettlementEntry. Returns sql.ErrNoRows when the transfer does not exist.
func (iso *ISO20022Service) LoadEntry(transferID string) (*SettlementEntry, error) {
	var (
		entry     SettlementEntry
		clientRef sql.NullString
		sFirst    string
		sLast     string
		rFirst    string
		rLast     string
	)
	err := iso.db.QueryRow(`
		SELECT t.id, t.client_reference, t.amount, t.occurred_at,
		       su.first_name, su.last_name, sa.iban,
		       ru.first_name, ru.last_name, ra.iban
		FROM transfers t
		JOIN accounts sa ON sa.id = t.sender_account_id
		JOIN users su ON su.id = sa.user_id
		JOIN accounts ra ON ra.id = t.recipient_account_id
		JOIN users ru ON ru.id = ra.user_id
		WHERE t.id = $1`, transferID).Scan(
		&entry.TransferID, &clientRef, &entry.Amount, &entry.OccurredAt,
		&sFirst, &sLast, &entry.SenderIBAN,
		&rFirst, &rLast, &entry.RecipientIBAN,
	)
	if err != nil {
		return nil, err
	}

	entry.SenderName = sFirst + " " + sLast
	entry.RecipientName = rFirst + " " + rLast
	entry.EndToEndID = entry.TransferID
	if clientRef.Valid {
		entry.EndToEndID = clientRef.String
	}
	return &entry, nil
}

func (iso *ISO20022Service) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace with the clearing house submission once the endpoint
	// and mTLS credentials are provisioned.
	log.Printf("[ISO20022] sending to settlement: %d bytes", len(xmlData))
	return nil
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer message
// for a committed transfer. Parties are identified by name and IBAN.
func (iso *ISO20022Service) CreatePacs008(entry *SettlementEntry) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := entry.OccurredAt
	amount := float64(entry.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("TRY"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(entry.TransferID)}[0],
					EndToEndId: common.Max35Text(entry.EndToEndID),
					TxId:       &[]common.Max35Text{common.Max35Text(entry.TransferID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("TRY"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(settlementBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(entry.SenderName)}[0],
				},
				DbtrAcct: &pacs_v08.CashAccount38{
					Id: pacs_v08.AccountIdentification4Choice{
						IBAN: &[]common.IBAN2007Identifier{common.IBAN2007Identifier(entry.SenderIBAN)}[0],
					},
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(settlementBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(entry.RecipientName)}[0],
				},
				CdtrAcct: &pacs_v08.CashAccount38{
					Id: pacs_v08.AccountIdentification4Choice{
						IBAN: &[]common.IBAN2007Identifier{common.IBAN2007Identifier(entry.RecipientIBAN)}[0],
					},
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds a pacs.002 payment status report for a transfer.
func (iso *ISO20022Service) CreatePacs002(entry *SettlementEntry, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(entry.TransferID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(entry.EndToEndID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(entry.TransferID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML marshals an ISO 20022 document to an XML string.
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
