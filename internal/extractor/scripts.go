package extractor

// resolveScript 返回第一个匹配元素去除空白后的文本，否则返回 "N/A"
// 选择器语法错误在页面内捕获
const resolveScript = `(sel) => {
	try {
		const el = document.querySelector(sel);
		return el ? (el.textContent || '').trim() || 'N/A' : 'N/A';
	} catch (e) {
		return 'N/A';
	}
}`

// batchScript 一次往返解析多个选择器
const batchScript = `(sels) => {
	const out = {};
	for (const sel of sels) {
		try {
			const el = document.querySelector(sel);
			out[sel] = el ? (el.textContent || '').trim() || 'N/A' : 'N/A';
		} catch (e) {
			out[sel] = 'N/A';
		}
	}
	return out;
}`

// scanTablesScript 返回第一个有可见数据行的表格，每行为按单元格顺序排列的 [表头, 文本] 对
const scanTablesScript = `() => {
	const clean = (s) => (s || '').replace(/\s+/g, ' ').trim();
	for (const table of document.querySelectorAll('table')) {
		let headers = Array.from(table.querySelectorAll('thead th')).map(th => clean(th.innerText)).filter(Boolean);
		const first = table.querySelector('tr');
		let fromFirstRow = false;
		if (headers.length === 0 && first) {
			headers = Array.from(first.querySelectorAll('th, td')).map(c => clean(c.innerText)).filter(Boolean);
			fromFirstRow = headers.length > 0;
		}
		let rows = Array.from(table.querySelectorAll('tbody tr'));
		if (rows.length === 0) rows = Array.from(table.querySelectorAll('tr'));
		// 浏览器会把没有 thead 的表头行放进隐式 tbody
		if (fromFirstRow && rows[0] === first) rows = rows.slice(1);
		const out = [];
		for (const tr of rows) {
			if (tr.offsetParent === null) continue;
			const cells = Array.from(tr.querySelectorAll('td'));
			if (cells.length === 0) continue;
			out.push(cells.map((c, i) => [i < headers.length ? headers[i] : 'Column ' + (i + 1), clean(c.innerText)]));
		}
		if (out.length > 0) return out;
	}
	return [];
}`
