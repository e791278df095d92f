package jsvm

import "github.com/dop251/goja"

// prelude runs before contract code in every fresh runtime. Values cross
// the host boundary as canonical JSON so contracts only ever see plain
// records, arrays and primitives.
const preludeSource = `
var state, ctx;

function revert(msg) {
	var e = new Error(String(msg));
	e.name = "Revert";
	throw e;
}

function require(cond, msg) {
	if (!cond) {
		revert(msg);
	}
}

function __encode(v) {
	return v === undefined ? "null" : JSON.stringify(v);
}

function __bind(info, pure) {
	var c = JSON.parse(info);
	if (pure) {
		ctx = Object.freeze({ address: c.address });
		state = undefined;
		return;
	}
	c.balance = function () { return __host.balance(); };
	c.transfer = function (to, amount) { __host.transfer(String(to), String(amount)); };
	c.emit = function (name, payload) { __host.emit(String(name), __encode(payload === undefined ? {} : payload)); };
	c.call = function (contract, method) {
		var args = Array.prototype.slice.call(arguments, 2);
		return JSON.parse(__host.call(String(contract), String(method), JSON.stringify(args)));
	};
	ctx = Object.freeze(c);
	state = Object.freeze({
		get: function (field) { return JSON.parse(__host.get(String(field))); },
		set: function (field, value) { __host.set(String(field), __encode(value)); },
		delete: function (field) { __host.del(String(field)); }
	});
}

function __invoke(fn, args) {
	return __encode(fn.apply(undefined, JSON.parse(args)));
}
`

var prelude = goja.MustCompile("prelude.js", preludeSource, false)
