package ledger

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a record body. The record type travels separately.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", rec.RecordType(), rec.Key(), err)
	}

	return data, nil
}

// Decode rebuilds a record of kind t from its serialized body.
func Decode(t RecordType, data []byte) (Record, error) {
	rec, err := newRecord(t)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, rec)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}

	return rec, nil
}

func (it Item) Match() (*Match, error) {
	m, ok := it.Record.(*Match)
	if !ok {
		return nil, kindMismatch(RecordMatch, it.Record)
	}

	return m, nil
}

func (it Item) Typing() (*Typing, error) {
	t, ok := it.Record.(*Typing)
	if !ok {
		return nil, kindMismatch(RecordTyping, it.Record)
	}

	return t, nil
}

func (it Item) User() (*User, error) {
	u, ok := it.Record.(*User)
	if !ok {
		return nil, kindMismatch(RecordUser, it.Record)
	}

	return u, nil
}

func (it Item) Pool() (*PoolRecord, error) {
	p, ok := it.Record.(*PoolRecord)
	if !ok {
		return nil, kindMismatch(RecordPool, it.Record)
	}

	return p, nil
}

func (it Item) Message() (*Message, error) {
	m, ok := it.Record.(*Message)
	if !ok {
		return nil, kindMismatch(RecordMessage, it.Record)
	}

	return m, nil
}

func kindMismatch(want RecordType, got Record) error {
	if got == nil {
		return fmt.Errorf("expected %s record, got none", want)
	}

	return fmt.Errorf("expected %s record at %s, got %s", want, got.Key(), got.RecordType())
}
